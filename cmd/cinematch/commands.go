package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kalambet/cinematch/internal/account"
	"github.com/kalambet/cinematch/internal/catalog"
	"github.com/kalambet/cinematch/internal/config"
	"github.com/kalambet/cinematch/internal/engine"
)

// --- login / logout ---

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Open a session on the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			p, err := readLine(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password = p
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		token, acct, err := login(cmd.Context(), client, args[0], password)
		if err != nil {
			return err
		}
		if err := writeSessionToken(sessionFilePath(cfg.Storage.DataDir), token); err != nil {
			return fmt.Errorf("saving session: %w", err)
		}

		name := acct.Name
		if name == "" {
			name = acct.Username
		}
		printSuccess("Logged in as %s", name)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			printWarning("Not logged in")
			return nil
		}

		resp, err := client.delete(cmd.Context(), "/sessions")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			printWarning("server did not accept logout: %v", err)
		}
		if err := os.Remove(sessionFilePath(cfg.Storage.DataDir)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("password", "", "password (prompted when omitted)")
}

type loginResult struct {
	Token   string         `json:"token"`
	Account account.Public `json:"account"`
}

func login(ctx context.Context, c *apiClient, username, password string) (string, account.Public, error) {
	resp, err := c.post(ctx, "/sessions", map[string]string{"username": username, "password": password})
	if err != nil {
		return "", account.Public{}, err
	}
	var res loginResult
	if err := decodeJSON(resp, &res); err != nil {
		return "", account.Public{}, err
	}
	return res.Token, res.Account, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <title>",
	Short: "Recommend films similar to the named one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := search(cmd.Context(), client, title, limit)
		if err != nil {
			return err
		}
		printSearchResult(os.Stdout, res)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "number of recommendations (default from server)")
}

func search(ctx context.Context, c *apiClient, title string, limit int) (engine.SearchResult, error) {
	q := url.Values{}
	q.Set("title", title)
	if limit > 0 {
		q.Set("k", strconv.Itoa(limit))
	}
	resp, err := c.get(ctx, "/search?"+q.Encode())
	if err != nil {
		return engine.SearchResult{}, err
	}
	var res engine.SearchResult
	if err := decodeJSON(resp, &res); err != nil {
		return engine.SearchResult{}, err
	}
	return res, nil
}

func printSearchResult(w io.Writer, res engine.SearchResult) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Because you liked"), res.Chosen.Title)
	if res.Chosen.Genre != "" {
		fmt.Fprintf(w, "  %s\n", res.Chosen.Genre)
	}
	if res.Chosen.Actors != "" {
		fmt.Fprintf(w, "  with %s\n", res.Chosen.Actors)
	}
	if len(res.Recommendations) == 0 {
		fmt.Fprintln(w, "\nNo other films available under the current filters.")
		return
	}
	for i, r := range res.Recommendations {
		printCard(w, i+1, r, fmt.Sprintf("[score: %.3f]", r.Score))
	}
}

func printCard(w io.Writer, rank int, r engine.Recommendation, note string) {
	fmt.Fprintf(w, "\n%s %s  %s\n", colorize(colorBold, fmt.Sprintf("%d.", rank)), r.Title, note)
	fmt.Fprintf(w, "  %s  ★ %.1f\n", r.Genre, r.Rating)
	if r.Actors != "" {
		fmt.Fprintf(w, "  with %s\n", r.Actors)
	}
	if r.Overview != "" {
		fmt.Fprintf(w, "  %s\n", truncate(r.Overview, 200))
	}
	if r.PosterURL != "" {
		fmt.Fprintf(w, "  %s\n", colorize(colorCyan, r.PosterURL))
	}
}

// --- filters ---

type filtersResult struct {
	catalog.Filter
	Available int `json:"available"`
}

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "Show or change the session's catalog filters",
	Long: `Without flags, show the active filters. With flags, replace them.

Examples:
  cinematch filters
  cinematch filters --min-rating 7
  cinematch filters --min-rating 5 --language fr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var res filtersResult
		if cmd.Flags().Changed("min-rating") || cmd.Flags().Changed("language") {
			current, err := getFilters(cmd.Context(), client)
			if err != nil {
				return err
			}
			f := current.Filter
			if cmd.Flags().Changed("min-rating") {
				f.MinRating, _ = cmd.Flags().GetFloat64("min-rating")
			}
			if cmd.Flags().Changed("language") {
				f.Language, _ = cmd.Flags().GetString("language")
			}
			if res, err = setFilters(cmd.Context(), client, f); err != nil {
				return err
			}
			printSuccess("Filters updated")
		} else if res, err = getFilters(cmd.Context(), client); err != nil {
			return err
		}

		printStatus("Minimum rating", "%g", res.MinRating)
		lang := res.Language
		if lang == "" {
			lang = "any"
		}
		printStatus("Language", "%s", lang)
		printStatus("Films available", "%d", res.Available)
		return nil
	},
}

func init() {
	filtersCmd.Flags().Float64("min-rating", 0, "minimum vote average (0-10)")
	filtersCmd.Flags().String("language", "", "original language code, empty for all")
}

func getFilters(ctx context.Context, c *apiClient) (filtersResult, error) {
	resp, err := c.get(ctx, "/filters")
	if err != nil {
		return filtersResult{}, err
	}
	var res filtersResult
	err = decodeJSON(resp, &res)
	return res, err
}

func setFilters(ctx context.Context, c *apiClient, f catalog.Filter) (filtersResult, error) {
	resp, err := c.put(ctx, "/filters", f)
	if err != nil {
		return filtersResult{}, err
	}
	var res filtersResult
	err = decodeJSON(resp, &res)
	return res, err
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:       "stats [genres|languages|popularity]",
	Short:     "Catalog statistics under the current filters",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"genres", "languages", "popularity"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) == 1 {
			kind = args[0]
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchStats(cmd.Context(), client)
		if err != nil {
			return err
		}
		return printStats(os.Stdout, st, kind)
	},
}

func fetchStats(ctx context.Context, c *apiClient) (catalog.Stats, error) {
	resp, err := c.get(ctx, "/stats")
	if err != nil {
		return catalog.Stats{}, err
	}
	var st catalog.Stats
	err = decodeJSON(resp, &st)
	return st, err
}

func printStats(w io.Writer, st catalog.Stats, kind string) error {
	switch kind {
	case "", "genres", "languages", "popularity":
	default:
		return fmt.Errorf("unknown stats kind %q", kind)
	}
	fmt.Fprintf(w, "%s %d films\n", colorize(colorBold, "Catalog:"), st.Total)

	if kind == "" || kind == "genres" {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Genres"))
		for _, g := range st.Genres {
			fmt.Fprintf(w, "  %-24s %5d\n", g.Genre, g.Count)
		}
	}
	if kind == "" || kind == "languages" {
		fmt.Fprintf(w, "\n%s\n", colorize(colorBold, "Languages"))
		for _, l := range st.Languages {
			fmt.Fprintf(w, "  %-6s %5d  %5.1f%%\n", l.Language, l.Count, l.Percent)
		}
	}
	if kind == "popularity" {
		scale := "linear"
		if st.LogScale {
			scale = "log"
		}
		fmt.Fprintf(w, "\n%s (vote count axis: %s)\n", colorize(colorBold, "Rating vs popularity"), scale)
		for _, p := range st.Popularity {
			fmt.Fprintf(w, "  %4.1f  %7d  %s\n", p.VoteAverage, p.VoteCount, p.Title)
		}
	}
	return nil
}

// --- showcase ---

var showcaseCmd = &cobra.Command{
	Use:   "showcase",
	Short: "Show random films from the filtered catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		films, err := showcase(cmd.Context(), client, n)
		if err != nil {
			return err
		}
		if len(films) == 0 {
			fmt.Println("Not enough films under the current filters.")
			return nil
		}
		for i, f := range films {
			printCard(os.Stdout, i+1, f, "")
		}
		return nil
	},
}

func init() {
	showcaseCmd.Flags().Int("count", 3, "number of films")
}

func showcase(ctx context.Context, c *apiClient, n int) ([]engine.Recommendation, error) {
	resp, err := c.get(ctx, "/showcase?n="+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	var body struct {
		Films []engine.Recommendation `json:"films"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Films, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		if asJSON {
			out := make(map[string]string, len(keys))
			for _, k := range keys {
				out[k.Key] = k.Value
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store the movie API token in the secret store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Token: ")
			t, err := readLine(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
			token = t
		}
		if err := config.SetToken(token); err != nil {
			return err
		}
		printSuccess("Movie API token stored")
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
