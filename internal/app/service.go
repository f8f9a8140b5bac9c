package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"repondeur/api/internal/auth"
	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/config"
	"repondeur/api/internal/editlock"
	"repondeur/api/internal/events"
	"repondeur/api/internal/location"
	"repondeur/api/internal/rbac"
	"repondeur/api/internal/refresh"
	"repondeur/api/internal/store"
)

// editLocks is the part of editlock.RedisStore the service relies on.
type editLocks interface {
	StartEditing(ctx context.Context, amendementID, userID int64, holder string) error
	StopEditing(ctx context.Context, amendementID int64) error
	Claim(ctx context.Context, amendementID int64) (*editlock.Claim, error)
	LastActivity(ctx context.Context, amendementID int64) (*time.Time, error)
	Ping(ctx context.Context) error
}

type refresher interface {
	Enqueue(ctx context.Context, lectureID int64) error
	Status(lectureID int64) (refresh.JobStatus, bool)
}

type Service struct {
	cfg       config.Config
	store     store.Store
	locks     editLocks
	clock     *changeclock.Clock
	registry  *location.Registry
	ingester  *refresh.Ingester
	refresher refresher
}

// New wires the service. runner may be nil when no upstream provider is
// configured; refresh requests are then refused.
func New(cfg config.Config, dataStore store.Store, locks *editlock.RedisStore, clock *changeclock.Clock, runner *refresh.Runner) *Service {
	registry := location.NewRegistry(clock)
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		clock:    clock,
		registry: registry,
		ingester: refresh.NewIngester(clock, registry),
	}
	if locks != nil {
		svc.locks = locks
	}
	if runner != nil {
		svc.refresher = runner
	}
	return svc
}

type Session struct {
	Token     string
	UserID    int64
	Email     string
	UserName  string
	Role      string
	JTI       string
	ExpiresAt int64
}

func (s Session) Actor() *events.Actor {
	return &events.Actor{ID: s.UserID, Email: s.Email, Name: s.UserName}
}

func (s *Service) Login(ctx context.Context, email, name string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, validationError("email is required")
	}
	var user store.User
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.EnsureUser(ctx, email, strings.TrimSpace(name))
		if err != nil {
			return err
		}
		if s.cfg.IsAdmin(email) && user.Role != string(rbac.RoleAdmin) {
			user.Role = string(rbac.RoleAdmin)
			return tx.SetUserRole(ctx, user.ID, user.Role)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Email, user.Name, string(rbac.Normalize(user.Role)), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		UserName:  user.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: claims.Exp,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return Session{}, err
	}
	var user store.User
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		UserName:  user.Name,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: claims.Exp,
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingEditLock(ctx context.Context) error {
	if s.locks == nil {
		return editlock.ErrStoreUnavailable
	}
	return s.locks.Ping(ctx)
}

type LectureInput struct {
	Chambre  string `json:"chambre"`
	Session  string `json:"session"`
	NumTexte int    `json:"num_texte"`
	Organe   string `json:"organe"`
	Titre    string `json:"titre"`
}

func (in LectureInput) validate() error {
	switch {
	case in.Chambre != store.ChambreAN && in.Chambre != store.ChambreSenat:
		return validationError("chambre must be an or senat")
	case strings.TrimSpace(in.Session) == "":
		return validationError("session is required")
	case in.NumTexte <= 0:
		return validationError("num_texte must be positive")
	case strings.TrimSpace(in.Organe) == "":
		return validationError("organe is required")
	}
	return nil
}

func (s *Service) CreateLecture(ctx context.Context, session Session, in LectureInput) (LectureView, error) {
	if err := in.validate(); err != nil {
		return LectureView{}, err
	}
	var lecture store.Lecture
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lecture, err = tx.CreateLecture(ctx, store.Lecture{
			Chambre:  in.Chambre,
			Session:  strings.TrimSpace(in.Session),
			NumTexte: in.NumTexte,
			Organe:   strings.TrimSpace(in.Organe),
			Titre:    strings.TrimSpace(in.Titre),
		})
		if err != nil {
			return err
		}
		if _, err := store.Record(ctx, tx, events.LectureCreee, events.Lecture(lecture.ID), lecture.ID, session.Actor(), events.Change{NewValue: lecture.Titre}, s.clock.Now()); err != nil {
			return err
		}
		if err := s.clock.TouchLecture(ctx, tx, lecture.ID); err != nil {
			return err
		}
		lecture, err = tx.GetLecture(ctx, lecture.ID)
		return err
	})
	if errors.Is(err, store.ErrDuplicateAssignment) {
		return LectureView{}, conflict("LECTURE_EXISTS", "Cette lecture existe déjà.", nil)
	}
	if err != nil {
		return LectureView{}, err
	}
	return newLectureView(lecture), nil
}

func (s *Service) GetLecture(ctx context.Context, lectureID int64) (LectureView, error) {
	var lecture store.Lecture
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lecture, err = tx.GetLecture(ctx, lectureID)
		return err
	})
	if err != nil {
		return LectureView{}, err
	}
	return newLectureView(lecture), nil
}

func (s *Service) ListLectures(ctx context.Context) ([]LectureView, error) {
	var lectures []store.Lecture
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		lectures, err = tx.ListLectures(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	views := make([]LectureView, 0, len(lectures))
	for _, l := range lectures {
		views = append(views, newLectureView(l))
	}
	return views, nil
}

// ImportAmendements ingests records sent by the client, the same way a
// refresh ingests what the provider returns.
func (s *Service) ImportAmendements(ctx context.Context, lectureID int64, records []refresh.RawAmendement) (refresh.Result, error) {
	var result refresh.Result
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		lecture, err := tx.GetLecture(ctx, lectureID)
		if err != nil {
			return err
		}
		result, err = s.ingester.Ingest(ctx, tx, lecture, records)
		return err
	})
	return result, err
}

func (s *Service) EnqueueRefresh(ctx context.Context, lectureID int64) error {
	if s.refresher == nil {
		return domainError(http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE", "No amendement provider is configured", nil)
	}
	if _, err := s.GetLecture(ctx, lectureID); err != nil {
		return err
	}
	if err := s.refresher.Enqueue(ctx, lectureID); err != nil {
		return fmt.Errorf("enqueue refresh of lecture %d: %w", lectureID, err)
	}
	return nil
}

// RefreshStatus reports the progress of the lecture's background refresh.
func (s *Service) RefreshStatus(ctx context.Context, lectureID int64) (refresh.JobStatus, error) {
	if s.refresher == nil {
		return refresh.JobStatus{}, domainError(http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE", "No amendement provider is configured", nil)
	}
	if _, err := s.GetLecture(ctx, lectureID); err != nil {
		return refresh.JobStatus{}, err
	}
	status, ok := s.refresher.Status(lectureID)
	if !ok {
		return refresh.JobStatus{}, fmt.Errorf("refresh of lecture %d: %w", lectureID, store.ErrNotFound)
	}
	return status, nil
}

// Check is the polling endpoint. It never writes.
func (s *Service) Check(ctx context.Context, lectureID, since int64) (changeclock.Check, error) {
	var check changeclock.Check
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		check, err = s.clock.Check(ctx, tx, lectureID, since)
		return err
	})
	return check, err
}

func parseNum(raw string) (int, error) {
	num, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || num <= 0 {
		return 0, validationError(fmt.Sprintf("invalid amendement number %q", raw))
	}
	return num, nil
}

func parseNums(raw []string) ([]int, error) {
	if len(raw) == 0 {
		return nil, validationError("nums is required")
	}
	seen := map[int]bool{}
	nums := make([]int, 0, len(raw))
	for _, value := range raw {
		num, err := parseNum(value)
		if err != nil {
			return nil, err
		}
		if !seen[num] {
			seen[num] = true
			nums = append(nums, num)
		}
	}
	return nums, nil
}
