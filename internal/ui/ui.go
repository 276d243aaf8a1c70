package ui

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/history"
)

//go:embed templates/*.html
var templateFS embed.FS

// LocationSource lists the locations offered in the estimate form.
type LocationSource interface {
	Locations() []string
}

type HistoryReader interface {
	ListPredictions(ctx context.Context, limit int) ([]history.Prediction, error)
}

type Handler struct {
	// RequireAPIKey adds an API key field to the estimate form.
	RequireAPIKey bool

	Locations LocationSource
	History   HistoryReader
	Activity  *activity.Log
	Log       *logrus.Logger

	templates *template.Template
}

func NewHandler(locs LocationSource, hist HistoryReader, act *activity.Log, log *logrus.Logger) (*Handler, error) {
	tpl, err := template.New("").Funcs(template.FuncMap{
		"fmtTime": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{Locations: locs, History: hist, Activity: act, Log: log, templates: tpl}, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.index)
	mux.HandleFunc("/history", h.history)
	mux.HandleFunc("/activity", h.activity)
}

type viewModel struct {
	Title         string
	Now           time.Time
	RequireAPIKey bool
	Data          any
}

func newViewModel(title string) viewModel {
	return viewModel{Title: title, Now: time.Now()}
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowGet(w, r) {
		return
	}
	vm := newViewModel("Home Price Estimator")
	vm.RequireAPIKey = h.RequireAPIKey
	vm.Data = h.Locations.Locations()
	h.render(w, "index.html", vm)
}

const historyPageSize = 100

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var rows []history.Prediction
	if h.History != nil {
		var err error
		rows, err = h.History.ListPredictions(r.Context(), historyPageSize)
		if err != nil {
			h.Log.WithError(err).Error("list predictions")
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
	}
	vm := newViewModel("Predictions")
	vm.Data = rows
	h.render(w, "history.html", vm)
}

func (h *Handler) render(w http.ResponseWriter, page string, vm viewModel) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := h.templates.ExecuteTemplate(w, "layout.html", map[string]any{
		"Page": page,
		"VM":   vm,
	})
	if err != nil {
		h.Log.WithError(err).WithField("page", page).Error("render template")
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
