package ui

import (
	"net/http"
	"time"
)

type activityRow struct {
	At     time.Time
	Type   string
	Source string
	Note   string
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	ev := h.Activity.List()
	rows := make([]activityRow, 0, len(ev))
	for _, e := range ev {
		rows = append(rows, activityRow{
			At:     e.At,
			Type:   string(e.Type),
			Source: e.Source,
			Note:   e.Note,
		})
	}

	vm := newViewModel("Activity")
	vm.Data = rows
	h.render(w, "activity.html", vm)
}
