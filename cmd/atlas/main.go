package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-atlas/internal/db"
	"github.com/joeblew999/plat-atlas/internal/server"
	"github.com/joeblew999/plat-atlas/internal/service"
)

// Options defines all CLI flags and env vars for the atlas server.
// Flags: --host, --port, --data-dir, --web-dir, --catalog, --catalog-url, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CATALOG, ...
type Options struct {
	Host       string `doc:"Host to bind to" default:"0.0.0.0"`
	Port       int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir    string `doc:"Directory for catalogs and the catalog database" default:".data"`
	WebDir     string `doc:"Path to web/ directory" default:"web"`
	Catalog    string `doc:"Catalog file served for every site scope"`
	CatalogURL string `doc:"Base URL of a remote catalog service"`
	LogLevel   string `doc:"Log level (debug, info, warn, error)" default:"info"`
	SiteScope  string `doc:"Default site scope for new sessions" default:"global"`
	Locale     string `doc:"Default locale for new sessions" default:"en"`
}

func newServer(opts *Options) *server.Server {
	return server.New(server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		WebDir:     opts.WebDir,
		Catalog:    opts.Catalog,
		CatalogURL: opts.CatalogURL,
		LogLevel:   opts.LogLevel,
		SiteScope:  opts.SiteScope,
		Locale:     opts.Locale,
	})
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := newServer(opts)
		httpServer := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler: srv,
		}

		hooks.OnStart(func() {
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-atlas API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Viewer:  %s/viewer\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Server error: %v", err)
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
			_ = srv.Close()
		})
	})

	cli.Root().Use = "atlas"
	cli.Root().Short = "Map layer catalog and map session server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec: %v", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// resolve subcommand: print the layer tree of a catalog
	resolveCmd := &cobra.Command{
		Use:   "resolve [catalog-file]",
		Short: "Print the layer tree of a catalog file, or of the configured catalog",
		Args:  cobra.MaximumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			asJSON, _ := cmd.Flags().GetBool("json")
			tree, err := resolveTree(cmd.Context(), opts, args)
			if err != nil {
				fatal("Error resolving catalog: %v", err)
			}
			if asJSON {
				out, err := json.MarshalIndent(tree, "", "  ")
				if err != nil {
					fatal("Error marshaling tree: %v", err)
				}
				fmt.Println(string(out))
				return
			}
			printTree(tree)
		}),
	}
	resolveCmd.Flags().Bool("json", false, "Output the tree as JSON")
	cli.Root().AddCommand(resolveCmd)

	// import subcommand: load a catalog file into the catalog database
	importCmd := &cobra.Command{
		Use:   "import <catalog-file>",
		Short: "Import a catalog file into the DuckDB catalog database",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			scope, _ := cmd.Flags().GetString("scope")
			locale, _ := cmd.Flags().GetString("locale")
			n, err := importCatalog(cmd.Context(), opts.DataDir, args[0], scope, locale)
			if err != nil {
				fatal("Error importing catalog: %v", err)
			}
			fmt.Printf("Imported %d layers for site scope %q, locale %q\n", n, scope, locale)
		}),
	}
	importCmd.Flags().String("scope", "", "Site scope the catalog serves (empty for any)")
	importCmd.Flags().String("locale", "", "Locale the catalog serves (empty for any)")
	cli.Root().AddCommand(importCmd)

	cli.Run()
}

func resolveTree(ctx context.Context, opts *Options, args []string) (service.Tree, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		c   service.Catalog
		err error
	)
	if len(args) == 1 {
		c, err = service.NewFileFetcher(args[0]).Fetch(ctx, "", "")
	} else {
		srv := newServer(opts)
		defer srv.Close()
		c, err = srv.Services().Catalog.Fetch(ctx, opts.SiteScope, opts.Locale)
	}
	if err != nil {
		return nil, err
	}
	store := service.NewCatalogStore()
	store.Replace(c, opts.SiteScope, opts.Locale)
	return store.Tree(service.Resolver{}, store.DefaultActives()), nil
}

func printTree(tree service.Tree) {
	tree.Walk(func(n service.TreeNode, depth int) {
		indent := strings.Repeat("  ", depth)
		mark := "-"
		if n.Active {
			mark = "+"
		}
		fmt.Printf("%s%s %s [%s]\n", indent, mark, n.Name, n.Type)
		for _, l := range n.Layers {
			fmt.Printf("%s    %s (%d%%)\n", indent, l.Name, l.OpacityText)
		}
	})
}

func importCatalog(ctx context.Context, dataDir, path, scope, locale string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	file, err := service.ReadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	conn, err := db.Open(ctx, db.Config{DataDir: dataDir})
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if err := db.Import(ctx, conn, file, scope, locale); err != nil {
		return 0, err
	}
	return len(file.Layers), nil
}
