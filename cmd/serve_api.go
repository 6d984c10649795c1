package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kidsclubplans/kcp/internal/chat"
	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/metrics"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/safety"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/tools"
)

const (
	// transcriptLimit caps the messages replayed into the next chat turn.
	transcriptLimit   = 20
	maxAudioBytes     = 25 << 20
	transcribeTimeout = 60 * time.Second
)

var allowedAudioTypes = []string{"audio/mpeg", "audio/mp3", "audio/mp4", "audio/wav", "audio/x-m4a", "audio/webm", "audio/ogg"}

func (s *serveServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": serviceName})
}

func (s *serveServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.app.store.Ping(); err != nil {
		s.requestLogger(r).Error("store ping failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	resp := map[string]any{
		"status":                   status,
		"vector_store_initialized": s.app.vectors != nil,
		"semantic_search":          s.app.vectors != nil && s.app.vectors.Semantic(),
		"memory_initialized":       s.app.memory != nil,
		"llm_configured":           s.app.chat.Configured(),
	}
	if code == http.StatusOK {
		if cov, err := s.app.vectors.Coverage(r.Context()); err == nil {
			resp["catalog"] = cov
		}
	}
	writeJSON(w, code, resp)
}

func (s *serveServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"metrics": s.app.metrics.Snapshot()})
}

type chatBody struct {
	Message        string `json:"message" validate:"required"`
	ConversationID string `json:"conversation_id,omitempty" validate:"omitempty,max=128"`
}

// transcriptKey scopes a conversation transcript to the user that owns it.
func transcriptKey(userID, conversationID string) string {
	return userID + ":" + conversationID
}

func (s *serveServer) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, isNew := s.sessionUser(w, r)
	var body chatBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	convID := body.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}
	logger := s.requestLogger(r).With("conversation_id", convID)

	if s.rateLimited(w, r, s.app.limiters.Chat, userID, "chat_rate_limited") {
		return
	}

	message := safety.NormalizeText(body.Message)
	if message == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation", "message must not be empty")
		return
	}
	if n := utf8.RuneCountInString(message); n > s.cfg.Server.MaxMessageChars {
		writeError(w, http.StatusUnprocessableEntity, "validation",
			fmt.Sprintf("message is %d characters, the limit is %d", n, s.cfg.Server.MaxMessageChars))
		return
	}
	logger.Info("chat request received", "new_session", isNew, "message_chars", utf8.RuneCountInString(message))

	chat.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	sse := chat.NewSSEWriter(w)

	if ok, reason := safety.CheckInput(message); !ok {
		logger.Warn("chat input blocked")
		_ = sse.Emit(chat.ContentEvent(reason))
		_ = sse.Emit(chat.DoneEvent(convID))
		return
	}

	key := transcriptKey(userID, convID)
	var history []chat.Message
	if prev, ok := s.app.memory.SessionContext(key); ok {
		history, _ = prev.([]chat.Message)
	}
	messages := append(append([]chat.Message(nil), history...), chat.Message{Role: "user", Content: message})

	out := s.app.chat.Run(r.Context(), chat.Request{
		Messages:       messages,
		UserID:         userID,
		SessionID:      convID,
		ConversationID: convID,
		Stream:         true,
	}, sse.Emit)

	if out.Text != "" {
		messages = append(messages, chat.Message{Role: "assistant", Content: out.Text})
	}
	if len(messages) > transcriptLimit {
		messages = messages[len(messages)-transcriptLimit:]
	}
	s.app.memory.SetSessionContext(key, messages)
}

func (s *serveServer) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	convID := r.PathValue("id")
	history, err := s.app.memory.History(r.Context(), userID, convID, 0)
	if err != nil {
		s.internalError(w, r, "load conversation history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": convID, "messages": history})
}

func (s *serveServer) handleConversationClear(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	s.app.memory.ClearSessionContext(transcriptKey(userID, r.PathValue("id")))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Conversation context cleared"})
}

func (s *serveServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	limit, ok := queryInt(w, r, "limit", 20, 1, 100)
	if !ok {
		return
	}
	history, err := s.app.memory.History(r.Context(), userID, "", limit)
	if err != nil {
		s.internalError(w, r, "load conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": history})
}

type activitySearchBody struct {
	Query        string `json:"query" validate:"required,min=1,max=500"`
	TopK         int    `json:"top_k" validate:"omitempty,min=1,max=20"`
	ActivityType string `json:"activity_type,omitempty" validate:"max=100"`
}

func (s *serveServer) handleActivitySearch(w http.ResponseWriter, r *http.Request) {
	var body activitySearchBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.TopK == 0 {
		body.TopK = 5
	}
	acts, err := s.app.vectors.Search(r.Context(), body.Query, body.TopK, rag.Filters{Type: body.ActivityType})
	if err != nil {
		s.searchFailed(w, r, err)
		return
	}
	if acts == nil {
		acts = []store.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": acts})
}

type activityBrowseBody struct {
	Query         string `json:"query" validate:"required,max=500"`
	AgeGroup      string `json:"age_group,omitempty" validate:"max=100"`
	ActivityType  string `json:"activity_type,omitempty" validate:"max=100"`
	IndoorOutdoor string `json:"indoor_outdoor,omitempty" validate:"omitempty,oneof=indoor outdoor either"`
	MaxDuration   *int   `json:"max_duration,omitempty" validate:"omitempty,min=0,max=600"`
	Limit         int    `json:"limit,omitempty" validate:"omitempty,min=1,max=50"`
}

type browsedActivity struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	Description         string  `json:"description"`
	Type                string  `json:"type"`
	DevelopmentAgeGroup string  `json:"development_age_group"`
	Supplies            string  `json:"supplies"`
	Instructions        string  `json:"instructions"`
	DurationMinutes     int     `json:"duration_minutes"`
	IndoorOutdoor       string  `json:"indoor_outdoor"`
	Score               float64 `json:"score"`
}

// handleActivityBrowse over-fetches semantic matches and narrows them with
// the browser's filters.
func (s *serveServer) handleActivityBrowse(w http.ResponseWriter, r *http.Request) {
	var body activityBrowseBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.Limit == 0 {
		body.Limit = 20
	}
	maxDuration := 120
	if body.MaxDuration != nil {
		maxDuration = *body.MaxDuration
	}

	matches, err := s.app.vectors.Search(r.Context(), body.Query, body.Limit*3, rag.Filters{Type: body.ActivityType})
	if err != nil {
		s.searchFailed(w, r, err)
		return
	}

	out := make([]browsedActivity, 0, body.Limit)
	for _, a := range matches {
		if body.AgeGroup != "" && !strings.Contains(a.AgeGroup, body.AgeGroup) {
			continue
		}
		placement := a.IndoorOutdoor
		if placement == "" {
			placement = "either"
		}
		if body.IndoorOutdoor != "" && placement != body.IndoorOutdoor && placement != "either" {
			continue
		}
		if maxDuration > 0 {
			d := a.DurationMinutes
			if d == 0 {
				d = 60
			}
			if d > maxDuration {
				continue
			}
		}
		b := browsedActivity{
			ID:                  a.ID,
			Title:               a.Title,
			Description:         a.Description,
			Type:                a.Type,
			DevelopmentAgeGroup: a.AgeGroup,
			Supplies:            a.Supplies,
			Instructions:        a.Instructions,
			DurationMinutes:     a.DurationMinutes,
			IndoorOutdoor:       placement,
			Score:               a.Score,
		}
		if b.Type == "" {
			b.Type = "Other"
		}
		if b.DevelopmentAgeGroup == "" {
			b.DevelopmentAgeGroup = "6-12 years"
		}
		if b.DurationMinutes == 0 {
			b.DurationMinutes = 30
		}
		out = append(out, b)
		if len(out) >= body.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": out, "total": len(out), "query": body.Query})
}

type activitySaveBody struct {
	Title           string   `json:"title" validate:"required,min=1,max=200"`
	Description     string   `json:"description" validate:"required,min=1,max=2000"`
	Instructions    string   `json:"instructions" validate:"required,min=1,max=4000"`
	AgeGroup        string   `json:"age_group" validate:"required,min=1,max=50"`
	DurationMinutes int      `json:"duration_minutes" validate:"required,min=5,max=240"`
	Supplies        []string `json:"supplies" validate:"max=30,dive,max=100"`
	ActivityType    string   `json:"activity_type,omitempty" validate:"max=100"`
	IndoorOutdoor   string   `json:"indoor_outdoor,omitempty" validate:"omitempty,oneof=indoor outdoor either"`
}

// handleActivitySave runs the save_activity tool on behalf of the browser so
// saved activities go through the same sanitizing and indexing.
func (s *serveServer) handleActivitySave(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var body activitySaveBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	if s.rateLimited(w, r, s.app.limiters.ActivitySave, userID, "activity_save_rate_limited") {
		return
	}
	if body.Supplies == nil {
		body.Supplies = []string{}
	}
	if body.ActivityType == "" {
		body.ActivityType = "Other"
	}
	if body.IndoorOutdoor == "" {
		body.IndoorOutdoor = "either"
	}

	args, err := json.Marshal(body)
	if err != nil {
		s.internalError(w, r, "encode activity", err)
		return
	}
	res := s.app.executor.Execute(r.Context(), tools.SaveActivityToolName, args, s.app.toolContext(userID, ""))
	if !res.Success {
		s.requestLogger(r).Error("activity save failed", "error", res.ErrorMessage)
		writeError(w, http.StatusInternalServerError, "internal", res.ErrorMessage)
		return
	}
	saved, _ := res.Result.(tools.SaveActivityResult)
	s.requestLogger(r).Info("activity saved", "user_id", userID, "activity_id", saved.ActivityID, "indexed", saved.Indexed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"activity_id": saved.ActivityID,
		"message":     "Activity saved successfully!",
		"searchable":  saved.Indexed,
	})
}

func (s *serveServer) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	p, err := s.app.store.GetProfile(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"message": "No profile found. Create one with POST /api/profile"})
		return
	}
	if err != nil {
		s.internalError(w, r, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *serveServer) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var update store.ProfileUpdate
	if !s.decodeBody(w, r, &update) {
		return
	}
	p, err := s.app.store.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		s.internalError(w, r, "update profile", err)
		return
	}
	s.requestLogger(r).Info("profile updated", "user_id", userID, "fields_updated", update.Fields())
	writeJSON(w, http.StatusOK, p)
}

func (s *serveServer) handleProfileStats(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	stats, err := s.app.memory.Stats(r.Context(), userID)
	if err != nil {
		s.internalError(w, r, "load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type weatherBody struct {
	Location string `json:"location,omitempty" validate:"max=100"`
	Date     string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (s *serveServer) handleWeather(w http.ResponseWriter, r *http.Request) {
	var body weatherBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	snap, err := s.app.weather.Check(r.Context(), body.Location, body.Date)
	if err != nil {
		s.requestLogger(r).Error("weather lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, string(llm.ClassifyError(err)), "Weather service error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type scheduleGenerateBody struct {
	Date           string                    `json:"date" validate:"required,datetime=2006-01-02"`
	AgeGroup       string                    `json:"age_group,omitempty" validate:"max=100"`
	DurationHours  int                       `json:"duration_hours" validate:"required,min=1,max=12"`
	IncludeWeather bool                      `json:"include_weather,omitempty"`
	Location       string                    `json:"location,omitempty" validate:"max=100"`
	Preferences    tools.SchedulePreferences `json:"preferences"`
}

func (s *serveServer) handleScheduleGenerate(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var body scheduleGenerateBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	logger := s.requestLogger(r)
	req := tools.ScheduleRequest{
		Date:          body.Date,
		AgeGroup:      body.AgeGroup,
		DurationHours: body.DurationHours,
		Theme:         firstNonBlank(body.Preferences.Theme, body.Preferences.ActivityType),
		Preferences:   body.Preferences,
		Shuffle:       rand.Shuffle,
		Logger:        logger,
	}
	if body.IncludeWeather {
		snap, err := s.app.weather.Check(r.Context(), body.Location, body.Date)
		if err != nil {
			logger.Warn("could not fetch weather for schedule", "error", err)
		} else {
			req.Weather = snap
		}
	}
	p, err := s.app.store.GetProfile(r.Context(), userID)
	switch {
	case err == nil:
		tools.MergeProfile(&req, p)
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("schedule profile lookup failed", "error", err)
	}

	sched := tools.BuildSchedule(r.Context(), s.app.vectors, req)
	logger.Info("schedule generated", "user_id", userID, "date", body.Date, "theme", sched.Theme, "filled_count", sched.Stats.FilledSlots)
	writeJSON(w, http.StatusOK, sched)
}

type scheduleSaveBody struct {
	Title         string       `json:"title,omitempty" validate:"max=500"`
	Date          string       `json:"date" validate:"required,datetime=2006-01-02"`
	AgeGroup      string       `json:"age_group" validate:"required,max=100"`
	DurationHours int          `json:"duration_hours" validate:"required,min=1,max=12"`
	Activities    []store.Slot `json:"activities" validate:"max=100,dive"`
}

func (s *serveServer) handleScheduleSave(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var body scheduleSaveBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	if s.rateLimited(w, r, s.app.limiters.ScheduleSave, userID, "schedule_save_rate_limited") {
		return
	}

	slots := make([]store.Slot, 0, len(body.Activities))
	for _, slot := range body.Activities {
		slot.Title = safety.SanitizeActivityTitle(slot.Title)
		slot.Description = safety.SanitizeActivityDescription(slot.Description)
		slot.SuppliesNeeded = safety.SanitizeText(slot.SuppliesNeeded, 500)
		slots = append(slots, slot)
	}
	sched := &store.Schedule{
		UserID:        userID,
		Date:          body.Date,
		Title:         safety.SanitizeScheduleTitle(body.Title),
		AgeGroup:      body.AgeGroup,
		DurationHours: body.DurationHours,
		Activities:    slots,
	}
	if err := s.app.store.SaveSchedule(r.Context(), sched); err != nil {
		s.internalError(w, r, "save schedule", err)
		return
	}
	s.requestLogger(r).Info("schedule saved", "user_id", userID, "schedule_id", sched.ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": sched.ID, "status": "saved"})
}

func (s *serveServer) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	sched, err := s.app.store.GetSchedule(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Schedule not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "load schedule", err)
		return
	}
	if sched.Activities == nil {
		sched.Activities = []store.Slot{}
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *serveServer) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	limit, ok := queryInt(w, r, "limit", 10, 1, 100)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0, 0, 1<<30)
	if !ok {
		return
	}
	items, total, err := s.app.store.ListSchedules(r.Context(), userID, limit, offset)
	if err != nil {
		s.internalError(w, r, "list schedules", err)
		return
	}
	if items == nil {
		items = []store.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": items, "total": total, "limit": limit, "offset": offset})
}

func (s *serveServer) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	if s.rateLimited(w, r, s.app.limiters.Delete, userID, "delete_schedule_rate_limited") {
		return
	}
	err := s.app.store.DeleteSchedule(r.Context(), r.PathValue("id"), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "Schedule not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "delete schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Schedule deleted"})
}

type weeklySaveBody struct {
	WeekNumber int             `json:"week_number" validate:"required,min=1,max=53"`
	Theme      string          `json:"theme,omitempty" validate:"max=200"`
	Activities json.RawMessage `json:"activities,omitempty"`
}

func (s *serveServer) handleWeeklySave(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var body weeklySaveBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	week := &store.WeeklySchedule{
		UserID:     userID,
		WeekNumber: body.WeekNumber,
		Theme:      safety.SanitizeText(body.Theme, 200),
		Activities: body.Activities,
	}
	if err := s.app.store.SaveWeekly(r.Context(), week); err != nil {
		s.internalError(w, r, "save weekly schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"message":          fmt.Sprintf("Week %d saved successfully", week.WeekNumber),
		"activities_count": week.ActivityCount(),
	})
}

func (s *serveServer) handleWeeklyGet(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	weekNum, err := strconv.Atoi(r.PathValue("week"))
	if err != nil || weekNum < 1 {
		writeError(w, http.StatusUnprocessableEntity, "validation", "week must be a positive integer")
		return
	}
	week, err := s.app.store.GetWeekly(r.Context(), userID, weekNum)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"week_number": weekNum,
			"theme":       "",
			"activities":  []any{},
		})
		return
	}
	if err != nil {
		s.internalError(w, r, "load weekly schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"week_number": weekNum,
		"theme":       week.Theme,
		"activities":  week.Activities,
	})
}

type weeklyDuplicateBody struct {
	FromWeek int `json:"from_week" validate:"required,min=1,max=53"`
	ToWeek   int `json:"to_week" validate:"required,min=1,max=53,nefield=FromWeek"`
}

func (s *serveServer) handleWeeklyDuplicate(w http.ResponseWriter, r *http.Request) {
	userID, _ := s.sessionUser(w, r)
	var body weeklyDuplicateBody
	if !s.decodeBody(w, r, &body) {
		return
	}
	week, err := s.app.store.DuplicateWeekly(r.Context(), userID, body.FromWeek, body.ToWeek)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("Week %d not found", body.FromWeek))
		return
	}
	if err != nil {
		s.internalError(w, r, "duplicate weekly schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"message":           fmt.Sprintf("Week %d duplicated to Week %d", body.FromWeek, body.ToWeek),
		"activities_copied": week.ActivityCount(),
	})
}

func (s *serveServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.app.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Voice transcription not available. Set OPENAI_API_KEY.")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "audio file is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if !slices.Contains(allowedAudioTypes, contentType) {
		writeError(w, http.StatusBadRequest, "validation",
			fmt.Sprintf("Unsupported audio format: %s. Supported: %s", contentType, strings.Join(allowedAudioTypes, ", ")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), transcribeTimeout)
	defer cancel()
	text, err := s.app.transcriber.Transcribe(ctx, file, filepath.Base(header.Filename))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, string(llm.ErrorTimeout), "Transcription timed out. Please try a shorter recording.")
			return
		}
		s.requestLogger(r).Error("transcription failed", "error", err)
		writeError(w, http.StatusInternalServerError, string(llm.ClassifyError(err)), "Transcription failed. Please try again.")
		return
	}
	text = strings.TrimSpace(text)
	s.requestLogger(r).Info("voice transcription", "chars", utf8.RuneCountInString(text))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "text": text, "source": "whisper"})
}

func (s *serveServer) searchFailed(w http.ResponseWriter, r *http.Request, err error) {
	kind := llm.ClassifyError(err)
	s.app.metrics.Incr(metrics.RAGErrors)
	s.app.metrics.Incr(metrics.ErrorType(string(kind)))
	s.requestLogger(r).Error("activity search failed", "error_type", kind, "error", err)
	writeError(w, http.StatusInternalServerError, string(kind), "Search failed")
}

func (s *serveServer) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	kind := llm.ClassifyError(err)
	s.app.metrics.Incr(metrics.ErrorType(string(kind)))
	s.requestLogger(r).Error(what+" failed", "error_type", kind, "error", err)
	writeError(w, http.StatusInternalServerError, string(kind), "Internal server error")
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusUnprocessableEntity, "validation", fmt.Sprintf("%s must be an integer between %d and %d", name, lo, hi))
		return 0, false
	}
	return n, true
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
