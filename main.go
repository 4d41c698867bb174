package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crt-reports-server/config"
	"crt-reports-server/db"
	"crt-reports-server/export"
	"crt-reports-server/handlers"
	"crt-reports-server/logging"
	"crt-reports-server/models"
	"crt-reports-server/reports"
	"crt-reports-server/upstream"
)

const shutdownTimeout = 5 * time.Second

var (
	configPath string

	// export flags
	exportSess models.Session
	exportID   string
	exportOut  string
	exportQ    string
)

var rootCmd = &cobra.Command{
	Use:           "crt-reports-server",
	Short:         "CRT reports dashboard backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var exportCmd = &cobra.Command{
	Use:   "export <view>",
	Short: "Write a report view to an xlsx file",
	Long: `Builds a report view from the results service and writes it as a workbook.

Views: batches, batch, students, student, tests, attempted, missed, roster.
The batch, student and test views take the entity id with --id.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	exportCmd.Flags().StringVar(&exportSess.Usertype, "usertype", "", "user type scope")
	exportCmd.Flags().StringVar(&exportSess.City, "city", "", "city scope")
	exportCmd.Flags().StringVar(&exportSess.Course, "course", "", "course (batch code) scope")
	exportCmd.Flags().StringVar(&exportID, "id", "", "batch id, student id or test number")
	exportCmd.Flags().StringVar(&exportQ, "q", "", "filter rows by name")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", ".", "output directory")

	rootCmd.AddCommand(serveCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newUpstream(cfg *config.Config, log *zap.Logger) *upstream.Client {
	return upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, cfg.Upstream.Endpoints, log.Named("upstream"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis Client
	redisClient, err := db.InitializeRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))

	up := newUpstream(cfg, log)
	store := db.NewStore(redisClient, log.Named("store"))
	svc := reports.NewService(up, cfg.Upstream.FanoutLimit, log.Named("reports"))
	apiHandler := handlers.NewAPIHandler(up, store, svc, cfg.SessionTTL, log.Named("api"))

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(log.Named("http")))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Authorization",
			handlers.SessionTokenHeader, handlers.UsertypeHeader, handlers.CityHeader, handlers.CourseHeader,
		},
		ExposeHeaders: []string{"Content-Disposition", logging.RequestIDHeader, handlers.UpstreamResultHeader},
		MaxAge:        12 * time.Hour,
	}))
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("upstream", cfg.Upstream.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	svc := reports.NewService(newUpstream(cfg, log), cfg.Upstream.FanoutLimit, log.Named("reports"))
	sheet, err := buildSheet(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}

	path := filepath.Join(exportOut, sheet.Filename)
	rows, err := writeSheet(path, sheet)
	if err != nil {
		return err
	}
	log.Info("report exported", zap.String("view", args[0]), zap.String("file", path), zap.Int("rows", rows))
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// writeSheet writes the workbook to path, then reads it back and checks that
// every row landed. It returns the number of data rows in the file.
func writeSheet(path string, sheet export.Sheet) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.Write(f, sheet); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	f, err = os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reopen %s: %w", path, err)
	}
	defer f.Close()
	_, rows, err := export.ReadRows(f)
	if err != nil {
		return 0, fmt.Errorf("verify %s: %w", path, err)
	}
	if len(rows) != sheet.Len() {
		return len(rows), fmt.Errorf("verify %s: wrote %d rows, read back %d", path, sheet.Len(), len(rows))
	}
	return len(rows), nil
}

func buildSheet(ctx context.Context, svc *reports.Service, view string) (export.Sheet, error) {
	opts := reports.ListOptions{Filters: map[string]string{}}
	if exportQ != "" {
		opts.Filters[reports.FilterQuery] = exportQ
		opts.Filters[reports.FilterName] = exportQ
	}
	switch view {
	case "batches":
		v, err := svc.BatchList(ctx, exportSess, opts)
		return reports.BatchListSheet(v), err
	case "batch":
		v, err := svc.BatchMembers(ctx, exportSess, exportID, opts)
		return reports.BatchMembersSheet(exportID, v), err
	case "students":
		v, err := svc.StudentList(ctx, exportSess, opts)
		return reports.StudentListSheet(v), err
	case "student":
		rep, err := svc.StudentReport(ctx, exportSess, exportID)
		if err != nil {
			return export.Sheet{}, err
		}
		return reports.StudentTestsSheet(rep), nil
	case "tests":
		v, err := svc.TestList(ctx, exportSess, opts)
		return reports.TestListSheet(v), err
	case "attempted":
		v, err := svc.AttemptedStudents(ctx, exportSess, exportID, opts)
		return reports.AttemptedSheet(exportID, v), err
	case "missed":
		v, err := svc.MissedStudents(ctx, exportSess, exportID, opts)
		return reports.MissedSheet(exportID, v), err
	case "roster":
		v, err := svc.TestRoster(ctx, exportSess, exportID)
		return reports.RosterSheet(exportID, v), err
	}
	return export.Sheet{}, fmt.Errorf("unknown view %q", view)
}
