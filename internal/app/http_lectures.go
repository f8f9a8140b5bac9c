package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"repondeur/api/internal/rbac"
	"repondeur/api/internal/refresh"
	"repondeur/api/internal/store"
)

// numList accepts amendement numbers sent either as JSON numbers or strings.
type numList []json.Number

func (l numList) strings() []string {
	out := make([]string, 0, len(l))
	for _, n := range l {
		out = append(out, n.String())
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleLectures serves /api/lectures and everything below it. rest is the
// path after "lectures".
func (s *HTTPServer) handleLectures(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			lectures, err := s.service.ListLectures(r.Context())
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"lectures": lectures})
		case http.MethodPost:
			if !s.authorize(w, session, rbac.ActionManage) {
				return
			}
			var body LectureInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			lecture, err := s.service.CreateLecture(r.Context(), session, body)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, lecture)
		default:
			methodNotAllowed(w)
		}
		return
	}

	lectureID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil || lectureID <= 0 {
		notFound(w)
		return
	}

	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		lecture, err := s.service.GetLecture(r.Context(), lectureID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, lecture)
		return
	}

	switch rest[1] {
	case "amendements":
		s.handleAmendements(w, r, session, lectureID, rest[2:])
	case "articles":
		s.handleArticles(w, r, session, lectureID, rest[2:])
	case "tables":
		if len(rest) != 3 {
			notFound(w)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		view, err := s.service.UserTable(r.Context(), lectureID, rest[2])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case "shared_tables":
		s.handleSharedTables(w, r, session, lectureID, rest[2:])
	case "check":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		var since int64
		if raw := r.URL.Query().Get("since"); raw != "" {
			since, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_QUERY", "since must be a Unix timestamp", nil)
				return
			}
		}
		check, err := s.service.Check(r.Context(), lectureID, since)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, check)
	case "transfer":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.authorize(w, session, rbac.ActionTransfer) {
			return
		}
		var body struct {
			Nums   numList `json:"nums"`
			Target string  `json:"target"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Transfer(r.Context(), session, lectureID, body.Nums.strings(), body.Target)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeRedirect(w, result.Location, map[string]any{"ok": true, "moved": result.Moved})
	case "batch":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.authorize(w, session, rbac.ActionTransfer) {
			return
		}
		var body struct {
			Nums numList `json:"nums"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.Batch(r.Context(), session, lectureID, body.Nums.strings())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeRedirect(w, result.Location, map[string]any{"ok": true, "batch_id": result.BatchID, "nums": result.Nums})
	case "refresh":
		switch r.Method {
		case http.MethodGet:
			status, err := s.service.RefreshStatus(r.Context(), lectureID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, status)
		case http.MethodPost:
			if !s.authorize(w, session, rbac.ActionRefresh) {
				return
			}
			if err := s.service.EnqueueRefresh(r.Context(), lectureID); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		default:
			methodNotAllowed(w)
		}
	case "journal":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		journal, err := s.service.LectureJournal(r.Context(), lectureID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"journal": journal})
	default:
		notFound(w)
	}
}

func (s *HTTPServer) handleAmendements(w http.ResponseWriter, r *http.Request, session Session, lectureID int64, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			index, err := s.service.Index(r.Context(), lectureID)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, index)
		case http.MethodPost:
			if !s.authorize(w, session, rbac.ActionManage) {
				return
			}
			var body struct {
				Amendements []refresh.RawAmendement `json:"amendements"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			result, err := s.service.ImportAmendements(r.Context(), lectureID, body.Amendements)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		default:
			methodNotAllowed(w)
		}
		return
	}

	num, err := parseNum(rest[0])
	if err != nil {
		notFound(w)
		return
	}

	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		detail, err := s.service.Amendement(r.Context(), lectureID, num)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}
	if len(rest) != 2 {
		notFound(w)
		return
	}

	if rest[1] == "journal" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		journal, err := s.service.AmendementJournal(r.Context(), lectureID, num)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"journal": journal})
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.authorize(w, session, rbac.ActionEdit) {
		return
	}
	switch rest[1] {
	case "start_editing":
		if err := s.service.StartEditing(r.Context(), session, lectureID, num); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "stop_editing":
		if err := s.service.StopEditing(r.Context(), lectureID, num); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "reponse":
		var body struct {
			Avis     string `json:"avis"`
			Objet    string `json:"objet"`
			Reponse  string `json:"reponse"`
			Comments string `json:"comments"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SaveReponse(r.Context(), session, lectureID, num, store.UserContent{
			Avis:     body.Avis,
			Objet:    body.Objet,
			Reponse:  body.Reponse,
			Comments: body.Comments,
		})
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": result.Saved})
	default:
		notFound(w)
	}
}

func (s *HTTPServer) handleArticles(w http.ResponseWriter, r *http.Request, session Session, lectureID int64, rest []string) {
	if len(rest) == 0 || len(rest) > 2 {
		notFound(w)
		return
	}
	key := rest[0]

	if len(rest) == 2 {
		if rest[1] != "journal" {
			notFound(w)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		journal, err := s.service.ArticleJournal(r.Context(), lectureID, key)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"journal": journal})
		return
	}

	switch r.Method {
	case http.MethodGet:
		article, err := s.service.Article(r.Context(), lectureID, key)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, article)
	case http.MethodPost:
		if !s.authorize(w, session, rbac.ActionEdit) {
			return
		}
		var body ArticleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		article, err := s.service.EditArticle(r.Context(), session, lectureID, key, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, article)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) handleSharedTables(w http.ResponseWriter, r *http.Request, session Session, lectureID int64, rest []string) {
	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		view, err := s.service.SharedTable(r.Context(), lectureID, rest[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	if len(rest) != 0 {
		notFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		tables, err := s.service.ListSharedTables(r.Context(), lectureID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shared_tables": tables})
	case http.MethodPost:
		if !s.authorize(w, session, rbac.ActionManage) {
			return
		}
		var body struct {
			Titre string `json:"titre"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		table, err := s.service.CreateSharedTable(r.Context(), lectureID, body.Titre)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, table)
	default:
		methodNotAllowed(w)
	}
}
