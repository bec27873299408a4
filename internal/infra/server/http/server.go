// Package httpserver exposes the event intake and report endpoints.
package httpserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/backoffice/errs"
	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/intake"
	"github.com/coachpo/backoffice/internal/report"
	"github.com/coachpo/backoffice/internal/schema"
)

const (
	maxFormBodyBytes int64 = 1 << 20 // 1 MiB

	eventsPath        = "/api/events/"
	outputReportsPath = "/api/output_reports"
	latestEventIDPath = "/api/get_latest_event_id"

	cashPortfolioPath     = "/api/get_cash_portfolio"
	positionPortfolioPath = "/api/get_position_portfolio"
	bondPortfolioPath     = "/api/get_bond_portfolio"
	currencyPortfolioPath = "/api/get_currency_portfolio"
	exclusionDataPath     = "/api/get_exclusion_data"

	cashReportPath      = "/api/get_cash_report"
	positionReportPath  = "/api/get_position_report"
	bondReportPath      = "/api/get_bond_report"
	currencyReportPath  = "/api/get_currency_report"
	exclusionReportPath = "/api/get_exclusion_report"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	intake *intake.Intake
	engine *report.Engine
	live   *report.Live
	store  ledger.Store
	outDir string
}

// NewHandler creates the HTTP handler serving event intake, point-in-time
// report downloads and the live portfolio dumps. outDir is where bulk report
// generation writes its files.
func NewHandler(in *intake.Intake, engine *report.Engine, live *report.Live, store ledger.Store, outDir string) http.Handler {
	server := &httpServer{intake: in, engine: engine, live: live, store: store, outDir: outDir}
	mux := http.NewServeMux()

	mux.Handle(eventsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.processEvent,
	}))

	mux.Handle(outputReportsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.outputReports,
	}))
	mux.Handle(latestEventIDPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.latestEventID,
	}))

	mux.Handle(cashPortfolioPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.cashPortfolio,
	}))
	mux.Handle(positionPortfolioPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.positionPortfolio,
	}))
	mux.Handle(bondPortfolioPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.bondPortfolio,
	}))
	mux.Handle(currencyPortfolioPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.currencyPortfolio,
	}))
	mux.Handle(exclusionDataPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.exclusionData,
	}))

	downloads := map[string]report.Kind{
		cashReportPath:      report.KindCash,
		positionReportPath:  report.KindPosition,
		bondReportPath:      report.KindBond,
		currencyReportPath:  report.KindCurrency,
		exclusionReportPath: report.KindExclusions,
	}
	for path, kind := range downloads {
		mux.Handle(path, server.methodHandlers(map[string]handlerFunc{
			http.MethodGet: server.downloadReport(kind),
		}))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) processEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodyBytes)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse form: %v", err))
		return
	}
	evt, err := schema.ParseForm(r.PostForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.intake.Handle(r.Context(), evt); err != nil {
		s.writeIntakeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *httpServer) writeIntakeError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid, errs.CodeData:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// targetID resolves the required target_id query parameter.
func (s *httpServer) targetID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("target_id"))
	if raw == "" {
		return 0, errs.New("httpserver", errs.CodeInvalid, errs.WithMessage("target_id is required"))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, errs.New("httpserver", errs.CodeInvalid, errs.WithMessage("invalid target_id"))
	}
	return id, nil
}

func (s *httpServer) downloadReport(kind report.Kind) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := s.targetID(r)
		if err != nil {
			s.writeReportError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+report.Filename(kind, target))
		if err := s.engine.Render(r.Context(), kind, target, w); err != nil {
			s.writeReportError(w, err)
			return
		}
	}
}

func (s *httpServer) outputReports(w http.ResponseWriter, r *http.Request) {
	target, err := s.targetID(r)
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	paths, err := s.engine.OutputAll(r.Context(), target, s.outDir)
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "wrote %d reports for event %d\n", len(paths), target)
	for _, path := range paths {
		fmt.Fprintln(w, path)
	}
}

func (s *httpServer) latestEventID(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.LastReleased(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"latest_event_id": last})
}

func (s *httpServer) cashPortfolio(w http.ResponseWriter, r *http.Request) {
	rows, err := s.live.Cash(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *httpServer) positionPortfolio(w http.ResponseWriter, r *http.Request) {
	rows, err := s.live.Positions(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *httpServer) bondPortfolio(w http.ResponseWriter, r *http.Request) {
	rows, err := s.live.Bonds(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *httpServer) currencyPortfolio(w http.ResponseWriter, r *http.Request) {
	rows, err := s.live.Currencies(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *httpServer) exclusionData(w http.ResponseWriter, r *http.Request) {
	rows, err := s.live.Exclusions(r.Context())
	if err != nil {
		s.writeReportError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *httpServer) writeReportError(w http.ResponseWriter, err error) {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case errs.CodeNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
