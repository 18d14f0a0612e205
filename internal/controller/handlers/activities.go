package handlers

import (
	"errors"
	"net/http"
	"time"

	"opsplane/internal/operation"
	"opsplane/internal/store"
	"opsplane/pkg/api"
)

// GetActivity handles GET /activities/{activity_id}.
// With device_type and device_id set, only that device's status is returned.
func (h *Handlers) GetActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activityID := r.PathValue("activity_id")

	q := r.URL.Query()
	deviceType, deviceID := q.Get("device_type"), q.Get("device_id")
	if (deviceType == "") != (deviceID == "") {
		h.httpError(w, "device_type and device_id go together", http.StatusBadRequest)
		return
	}

	var (
		activity *operation.Activity
		err      error
	)
	if deviceType != "" {
		activity, err = h.ops.DeviceActivity(ctx, activityID, store.DeviceIdentifier{Type: deviceType, ID: deviceID})
	} else {
		activity, err = h.ops.Activity(ctx, activityID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toActivity(activity))
}

// ListActivities handles GET /activities. It answers one of three queries:
// a batch of ids, activities of one operation code, or activities updated
// since a point in time. The last honours If-Modified-Since.
func (h *Handlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if ids := q.Get("ids"); ids != "" {
		activities, err := h.ops.Activities(r.Context(), splitList(ids))
		if errors.Is(err, operation.ErrNotFound) {
			h.httpError(w, "No activity found with the given IDs", http.StatusNotFound)
			return
		}
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJson(w, http.StatusOK, api.ActivityListResponse{Activities: toActivities(activities)})
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if code := q.Get("operation_code"); code != "" {
		h.activitiesByCode(w, r, code, limit, offset)
		return
	}
	h.activitiesSince(w, r, limit, offset)
}

func (h *Handlers) activitiesByCode(w http.ResponseWriter, r *http.Request, code string, limit, offset int) {
	activities, err := h.ops.ActivitiesByCode(r.Context(), code, limit, offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	count, err := h.ops.CountActivitiesByCode(r.Context(), code)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ActivityListResponse{Activities: toActivities(activities), Count: &count})
}

func (h *Handlers) activitiesSince(w http.ResponseWriter, r *http.Request, limit, offset int) {
	query := operation.ActivityQuery{
		InitiatedBy: r.URL.Query().Get("initiated_by"),
		Limit:       limit,
		Offset:      offset,
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := parseTimestamp(raw)
		if err != nil {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		query.Since = since
	}
	if raw := r.Header.Get("If-Modified-Since"); raw != "" {
		ims, err := http.ParseTime(raw)
		if err != nil {
			h.httpError(w, "Invalid If-Modified-Since header", http.StatusBadRequest)
			return
		}
		query.IfModifiedSince = ims
	}

	activities, err := h.ops.ActivitiesSince(r.Context(), query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	count, err := h.ops.CountActivitiesSince(r.Context(), query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if last := lastModified(activities); !last.IsZero() {
		w.Header().Set("Last-Modified", last.UTC().Format(http.TimeFormat))
	}
	h.respondJson(w, http.StatusOK, api.ActivityListResponse{Activities: toActivities(activities), Count: &count})
}

func lastModified(activities []*operation.Activity) (last time.Time) {
	for _, a := range activities {
		for _, s := range a.Statuses {
			if s.UpdatedAt.After(last) {
				last = s.UpdatedAt
			}
		}
	}
	return last
}
