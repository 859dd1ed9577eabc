package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/deckpack/internal"
	"github.com/starford/deckpack/internal/apperr"
	"github.com/starford/deckpack/internal/builder"
	"github.com/starford/deckpack/internal/connect"
	"github.com/starford/deckpack/internal/loader"
	pkgconfig "github.com/starford/deckpack/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

// mediaDir is the --media-dir flag or, when unset, the definition's directory.
func mediaDir(cmd *cli.Command, definition string) string {
	if dir := cmd.String("media-dir"); dir != "" {
		return dir
	}
	return filepath.Dir(definition)
}

func newBuilder(cmd *cli.Command, definition string) (*builder.Builder, error) {
	modTime, err := internal.ModTimeFromEnv()
	if err != nil {
		return nil, err
	}
	return builder.New(
		builder.WithMediaDir(mediaDir(cmd, definition)),
		builder.WithModTime(modTime),
	), nil
}

func buildPackages(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one definition file is required")
	}
	output := cmd.String("output")
	if output != "" && len(paths) > 1 {
		return errors.New("--output names a single package; use --out-dir for several definitions")
	}

	for _, p := range paths {
		def, err := loader.LoadFile(p)
		if err != nil {
			return err
		}
		b, err := newBuilder(cmd, p)
		if err != nil {
			return err
		}
		target := output
		if target == "" {
			name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)) + ".apkg"
			dir := cmd.String("out-dir")
			if dir == "" {
				dir = filepath.Dir(p)
			}
			target = filepath.Join(dir, name)
		}
		res, err := b.WriteFile(ctx, def, target)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintf(cmd.Root().Writer, "%s: %d notes, %d cards, %d media -> %s\n",
			p, res.Notes(), res.Cards(), len(res.Media), target)
	}
	return nil
}

// checkDefinition loads and plans one definition.
func checkDefinition(cmd *cli.Command, p string) (notes, cards int, err error) {
	def, err := loader.LoadFile(p)
	if err != nil {
		return 0, 0, err
	}
	b, err := newBuilder(cmd, p)
	if err != nil {
		return 0, 0, err
	}
	a, err := b.Plan(def)
	if err != nil {
		return 0, 0, err
	}
	return len(a.Notes), len(a.Cards()), nil
}

func validateDefinitions(_ context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return errors.New("at least one definition file is required")
	}
	out := cmd.Root().Writer
	failed := 0
	for _, p := range paths {
		notes, cards, err := checkDefinition(cmd, p)
		if err == nil {
			fmt.Fprintf(out, "%s: ok (%d notes, %d cards)\n", p, notes, cards)
			continue
		}
		failed++
		var defErr *apperr.DefinitionError
		if errors.As(err, &defErr) {
			fmt.Fprintf(out, "%s: %d issues\n", p, len(defErr.Issues))
			for _, is := range defErr.Issues {
				fmt.Fprintf(out, "  %s [%s]\n", is.String(), is.Kind)
			}
			continue
		}
		fmt.Fprintf(out, "%s: %v\n", p, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions invalid", failed, len(paths))
	}
	return nil
}

func printIDs(_ context.Context, cmd *cli.Command) error {
	p := cmd.Args().First()
	if p == "" {
		return errors.New("a definition file is required")
	}
	def, err := loader.LoadFile(p)
	if err != nil {
		return err
	}
	b, err := newBuilder(cmd, p)
	if err != nil {
		return err
	}
	a, err := b.Plan(def)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tID\tGUID")
	for _, m := range a.Models {
		fmt.Fprintf(tw, "model\t%s\t%d\t\n", m.Def.Name, m.ID)
	}
	for _, d := range a.Decks {
		fmt.Fprintf(tw, "deck\t%s\t%d\t\n", d.Name, d.ID)
	}
	for _, n := range a.Notes {
		fmt.Fprintf(tw, "note\t#%d\t%d\t%s\n", n.Position, n.ID, n.GUID)
		for _, c := range n.Cards {
			fmt.Fprintf(tw, "card\t#%d ord %d\t%d\t\n", n.Position, c.Ord, c.ID)
		}
	}
	return tw.Flush()
}

func importDefinition(ctx context.Context, cmd *cli.Command) error {
	p := cmd.Args().First()
	if p == "" {
		return errors.New("a definition file is required")
	}
	def, err := loader.LoadFile(p)
	if err != nil {
		return err
	}
	client := connect.NewClient(connect.Config{
		URL:     cmd.String("url"),
		APIKey:  cmd.String("api-key"),
		Timeout: cmd.Duration("timeout"),
	})
	imp := connect.NewImporter(client,
		connect.WithMediaDir(mediaDir(cmd, p)),
		connect.WithAllowDuplicate(cmd.Bool("allow-duplicate")),
	)
	res, err := imp.Import(ctx, def)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "%s: %d notes added, %d skipped; %d decks, %d models, %d media created\n",
		p, res.NotesCreated, res.NotesSkipped, res.DecksCreated, res.ModelsCreated, res.MediaStored)
	for pos, reason := range res.Errors {
		fmt.Fprintf(cmd.Root().Writer, "  note #%d: %s\n", pos, reason)
	}
	return nil
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file (.yaml or .toml)",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}
	mediaFlag := &cli.StringFlag{
		Name:  "media-dir",
		Usage: "Directory relative media paths resolve against (default: the definition's directory)",
	}

	cmd := &cli.Command{
		Name:   "deckpack",
		Usage:  "Build Anki .apkg packages from declarative deck definitions",
		Writer: os.Stdout,
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "Build one package per definition file",
				ArgsUsage: "<definition>...",
				Flags: []cli.Flag{
					mediaFlag,
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Package path (single definition only)"},
					&cli.StringFlag{Name: "out-dir", Usage: "Directory for built packages (default: next to each definition)"},
				},
				Action: buildPackages,
			},
			{
				Name:      "validate",
				Usage:     "Check definitions without writing anything",
				ArgsUsage: "<definition>...",
				Flags:     []cli.Flag{mediaFlag},
				Action:    validateDefinitions,
			},
			{
				Name:      "ids",
				Usage:     "Print the identifiers a definition produces",
				ArgsUsage: "<definition>",
				Flags:     []cli.Flag{mediaFlag},
				Action:    printIDs,
			},
			{
				Name:      "import",
				Usage:     "Push a definition into a running Anki through AnkiConnect",
				ArgsUsage: "<definition>",
				Flags: []cli.Flag{
					mediaFlag,
					&cli.StringFlag{Name: "url", Value: connect.DefaultURL, Sources: cli.EnvVars("ANKICONNECT_URL")},
					&cli.StringFlag{Name: "api-key", Sources: cli.EnvVars("ANKICONNECT_API_KEY")},
					&cli.DurationFlag{Name: "timeout", Value: connect.DefaultTimeout},
					&cli.BoolFlag{Name: "allow-duplicate", Usage: "Add notes whose first field already exists"},
				},
				Action: importDefinition,
			},
			{
				Name:   "serve",
				Usage:  "Serve the workspace HTTP API and rebuild on change",
				Flags:  []cli.Flag{configFlag},
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve workspace tools over MCP stdio",
				Flags:  []cli.Flag{configFlag},
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
