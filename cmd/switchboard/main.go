package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/lane"
	"switchboard/internal/logging"
	"switchboard/internal/orchestrator"
	"switchboard/internal/semantic"
	"switchboard/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	sessionID  string
	asJSON     bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "switchboard - context lane routing for conversation turns",
	Long: `switchboard routes each conversation turn into persistent context lanes.

Every turn is scored against the session's active lanes with lexical overlap
plus a recency bonus, optionally reranked by embeddings on ambiguous calls,
and assigned a primary lane with up to two secondaries. When nothing matches
well enough a new lane is created. All lane state persists across restarts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// routeCmd routes a single message through the lane engine
var routeCmd = &cobra.Command{
	Use:   "route [message]",
	Short: "Route a message into the session's context lanes",
	Long: `Scores the message against every active lane in the session, selects
the primary and secondary lanes (creating a new lane when nothing matches),
and prints the selection with the lane-scoped history.

Example:
  switchboard route --session dev "switch the payments service to pgbouncer"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

// lanesCmd lists the session's lanes
var lanesCmd = &cobra.Command{
	Use:   "lanes",
	Short: "List active context lanes for a session",
	RunE:  runLanes,
}

// eventsCmd lists recent switch events
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent lane switch events for a session",
	RunE:  runEvents,
}

// pinCmd sets a manual override
var pinCmd = &cobra.Command{
	Use:   "pin [lane-id]",
	Short: "Pin the session's primary lane for a duration",
	Long: `Forces the given lane to be the primary for every routed turn until
the override expires, regardless of scores. Pinning again replaces the
previous pin. Returns an error if the lane does not exist or is archived.`,
	Args: cobra.ExactArgs(1),
	RunE: runPin,
}

// unpinCmd clears a manual override
var unpinCmd = &cobra.Command{
	Use:   "unpin",
	Short: "Clear the session's manual lane pin",
	RunE:  runUnpin,
}

// statsCmd prints store-wide counters
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide lane and event counts",
	Long: `Prints row counts for lanes, memberships, switch events, and pins.
With --semantic, also probes the configured embedding provider.`,
	RunE: runStats,
}

var (
	routeMessageID string
	routeHistory   string
	eventsLimit    int
	lanesLimit     int
	pinFor         time.Duration
	checkSemantic  bool
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ~/.switchboard/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "default", "Session identifier")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")

	routeCmd.Flags().StringVar(&routeMessageID, "message-id", "", "Stable message id (generated when empty)")
	routeCmd.Flags().StringVar(&routeHistory, "history", "", "Path to a JSON file with prior messages")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 20, "Maximum events to show")
	lanesCmd.Flags().IntVar(&lanesLimit, "limit", 0, "Maximum lanes to show (0 = all)")
	pinCmd.Flags().DurationVar(&pinFor, "for", 30*time.Minute, "How long the pin holds")
	statsCmd.Flags().BoolVar(&checkSemantic, "semantic", false, "Probe the embedding provider")

	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(lanesCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildEngine wires config, store, embedder and orchestrator for one command.
// The returned cleanup closes the store.
func buildEngine() (*orchestrator.Orchestrator, *config.Config, func(), error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Initialize(".", cfg.Logging); err != nil {
		logger.Warn("Category logging unavailable", zap.Error(err))
	}

	st := store.Open(cfg.Storage)

	var reranker *semantic.Reranker
	if cfg.Routing.Semantic.Enabled {
		embedder, err := semantic.NewEmbedder(cfg.Embedding)
		if err != nil {
			logger.Warn("Embedder unavailable, routing lexically", zap.Error(err))
		} else {
			reranker = semantic.NewReranker(embedder)
		}
	}

	orch := orchestrator.New(st, reranker)
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	return orch, cfg, cleanup, nil
}

// runRoute routes one message and prints the resulting selection.
func runRoute(cmd *cobra.Command, args []string) error {
	orch, cfg, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	text := strings.Join(args, " ")
	messageID := routeMessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	history, err := loadHistory(routeHistory)
	if err != nil {
		return err
	}
	history = append(history, lane.Message{ID: messageID, Role: "user", Text: text})

	logger.Debug("Routing message",
		zap.String("session", sessionID),
		zap.Int("history", len(history)))

	result, err := orch.Route(cmd.Context(), orchestrator.RouteInput{
		SessionID: sessionID,
		MessageID: messageID,
		Text:      text,
		History:   history,
		Config:    cfg.Routing,
		Now:       time.Now(),
	})
	if err != nil {
		return fmt.Errorf("routing failed: %w", err)
	}

	if asJSON {
		return printJSON(result)
	}

	if result.CreatedNew {
		fmt.Printf("Created new lane %s\n", result.PrimaryID)
	} else {
		fmt.Printf("Primary lane: %s\n", result.PrimaryID)
	}
	if len(result.Secondaries) > 0 {
		fmt.Printf("Secondaries:  %s\n", strings.Join(result.Secondaries, ", "))
	}
	for _, s := range result.Selection.Scores {
		marker := " "
		if s.Semantic {
			marker = "*"
		}
		fmt.Printf("  %s %.3f  %-12s %s\n", marker, s.Value, s.LaneID, s.Title)
	}
	fmt.Printf("Lane history: %d messages, %d active lanes\n",
		len(result.LaneHistory), result.ActiveLanes)
	for _, or := range result.OwnerRoutes {
		fmt.Printf("Owner notify: session=%s lane=%s primary=%v\n",
			or.OwnerSessionID, or.LaneID, or.IsPrimary)
	}
	return nil
}

func runLanes(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	lanes, err := orch.ListContexts(sessionID, lanesLimit)
	if err != nil {
		return fmt.Errorf("failed to list lanes: %w", err)
	}
	if asJSON {
		return printJSON(lanes)
	}
	if len(lanes) == 0 {
		fmt.Println("No active lanes.")
		return nil
	}
	for _, l := range lanes {
		fmt.Printf("%s  %-30s msgs=%d active=%s\n",
			l.ID, l.Title, l.MsgCount, l.LastActiveAt.Format(time.RFC3339))
		if l.Summary != "" {
			for _, line := range strings.Split(l.Summary, "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := orch.ListSwitchEvents(sessionID, eventsLimit)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if asJSON {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No switch events.")
		return nil
	}
	for _, e := range events {
		from := e.FromLaneID
		if from == "" {
			from = "(none)"
		}
		fmt.Printf("%s  %s -> %s  %.3f  %s\n",
			e.CreatedAt.Format(time.RFC3339), from, e.ToLaneID, e.Confidence, e.Reason)
	}
	return nil
}

func runPin(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ok, err := orch.SwitchContext(sessionID, args[0], pinFor, time.Now())
	if err != nil {
		return fmt.Errorf("failed to pin lane: %w", err)
	}
	if !ok {
		return fmt.Errorf("lane %s not found or not active in session %s", args[0], sessionID)
	}
	fmt.Printf("Pinned %s for %s\n", args[0], pinFor)
	return nil
}

func runUnpin(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := orch.ClearManualOverride(sessionID); err != nil {
		return fmt.Errorf("failed to clear pin: %w", err)
	}
	fmt.Println("Pin cleared.")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	orch, cfg, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := orch.Stats()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	if asJSON {
		return printJSON(stats)
	}
	for _, key := range []string{"contexts", "context_memberships", "context_switch_events", "context_overrides"} {
		if v, ok := stats[key]; ok {
			fmt.Printf("%-24s %d\n", key, v)
		}
	}

	if checkSemantic {
		embedder, err := semantic.NewEmbedder(cfg.Embedding)
		if err != nil {
			fmt.Printf("embedding: unavailable (%v)\n", err)
			return nil
		}
		if hc, ok := embedder.(semantic.HealthChecker); ok {
			if err := hc.HealthCheck(cmd.Context()); err != nil {
				fmt.Printf("embedding: %s unreachable (%v)\n", embedder.Name(), err)
				return nil
			}
		}
		fmt.Printf("embedding: %s ok (%d dims)\n", embedder.Name(), embedder.Dimensions())
	}
	return nil
}

// loadHistory reads prior conversation messages from a JSON file.
func loadHistory(path string) ([]lane.Message, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	var msgs []lane.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse history file: %w", err)
	}
	return msgs, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
