package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"repondeur/api/internal/division"
	"repondeur/api/internal/events"
)

const (
	sqlStateUniqueViolation = "23505"
	sqlStateCheckViolation  = "23514"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken with
// LockAmendement and the unique constraints serialize concurrent moves.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return mapConstraintError(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", mapConstraintError(err))
	}
	return nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !errors.Is(err, ErrDuplicateAssignment) {
		switch pgErr.Code {
		case sqlStateUniqueViolation, sqlStateCheckViolation:
			return fmt.Errorf("%w: %s", ErrDuplicateAssignment, pgErr.ConstraintName)
		}
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) CreateLecture(ctx context.Context, l Lecture) (Lecture, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO lectures (chambre, session, num_texte, organe, titre)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, modified_at
	`, l.Chambre, l.Session, l.NumTexte, l.Organe, l.Titre).Scan(&l.ID, &l.CreatedAt, &l.ModifiedAt)
	if err != nil {
		return Lecture{}, fmt.Errorf("insert lecture: %w", err)
	}
	return l, nil
}

const lectureColumns = `id, chambre, session, num_texte, organe, titre, created_at, modified_at`

func scanLecture(row interface{ Scan(...any) error }) (Lecture, error) {
	var l Lecture
	err := row.Scan(&l.ID, &l.Chambre, &l.Session, &l.NumTexte, &l.Organe, &l.Titre, &l.CreatedAt, &l.ModifiedAt)
	return l, err
}

func (t *pgTx) GetLecture(ctx context.Context, id int64) (Lecture, error) {
	l, err := scanLecture(t.tx.QueryRowContext(ctx, `SELECT `+lectureColumns+` FROM lectures WHERE id=$1`, id))
	if err != nil {
		return Lecture{}, notFound(err, "get lecture")
	}
	return l, nil
}

func (t *pgTx) ListLectures(ctx context.Context) ([]Lecture, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+lectureColumns+` FROM lectures ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	defer rows.Close()

	items := make([]Lecture, 0)
	for rows.Next() {
		l, err := scanLecture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lecture: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lectures: %w", err)
	}
	return items, nil
}

func (t *pgTx) BumpLecture(ctx context.Context, id int64, at time.Time) (time.Time, error) {
	var modifiedAt time.Time
	err := t.tx.QueryRowContext(ctx, `
		UPDATE lectures SET modified_at = GREATEST(modified_at, $2)
		WHERE id=$1
		RETURNING modified_at
	`, id, at).Scan(&modifiedAt)
	if err != nil {
		return time.Time{}, notFound(err, "bump lecture")
	}
	return modifiedAt, nil
}

const articleColumns = `id, lecture_id, type, num, mult, pos, titre, presentation, contenu, modified_at`

func scanArticle(row interface{ Scan(...any) error }) (Article, error) {
	var a Article
	err := row.Scan(&a.ID, &a.LectureID, &a.Type, &a.Num, &a.Mult, &a.Pos, &a.Titre, &a.Presentation, &a.Contenu, &a.ModifiedAt)
	return a, err
}

func (t *pgTx) EnsureArticle(ctx context.Context, lectureID int64, d division.SubDiv) (Article, bool, error) {
	a, err := scanArticle(t.tx.QueryRowContext(ctx, `
		INSERT INTO articles (lecture_id, type, num, mult, pos)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lecture_id, type, num, mult, pos) DO NOTHING
		RETURNING `+articleColumns,
		lectureID, d.Type, d.Num, d.Mult, d.Pos))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Article{}, false, fmt.Errorf("insert article: %w", err)
	}
	a, err = t.GetArticleByDivision(ctx, lectureID, d)
	return a, false, err
}

func (t *pgTx) GetArticle(ctx context.Context, id int64) (Article, error) {
	a, err := scanArticle(t.tx.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=$1`, id))
	if err != nil {
		return Article{}, notFound(err, "get article")
	}
	return a, nil
}

func (t *pgTx) GetArticleByDivision(ctx context.Context, lectureID int64, d division.SubDiv) (Article, error) {
	a, err := scanArticle(t.tx.QueryRowContext(ctx, `
		SELECT `+articleColumns+` FROM articles
		WHERE lecture_id=$1 AND type=$2 AND num=$3 AND mult=$4 AND pos=$5
	`, lectureID, d.Type, d.Num, d.Mult, d.Pos))
	if err != nil {
		return Article{}, notFound(err, "get article by division")
	}
	return a, nil
}

func (t *pgTx) ListArticles(ctx context.Context, lectureID int64) ([]Article, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE lecture_id=$1 ORDER BY id`, lectureID)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return items, nil
}

func (t *pgTx) UpdateArticle(ctx context.Context, a Article) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE articles SET titre=$2, presentation=$3, contenu=$4 WHERE id=$1
	`, a.ID, a.Titre, a.Presentation, a.Contenu)
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}
	return expectOne(res, "update article")
}

func (t *pgTx) TouchArticle(ctx context.Context, id int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE articles SET modified_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("touch article: %w", err)
	}
	return expectOne(res, "touch article")
}

const amendementColumns = `id, lecture_id, article_id, num, rectif, auteur, groupe, sort, position,
	id_identique, id_discussion_commune, parent_id, corps, expose,
	avis, objet, reponse, comments, user_table_id, shared_table_id, batch_id, modified_at`

func scanAmendement(row interface{ Scan(...any) error }) (Amendement, error) {
	var (
		a                             Amendement
		position                      sql.NullInt32
		identique, discussion, parent sql.NullInt64
		userTable, sharedTable, batch sql.NullInt64
	)
	err := row.Scan(
		&a.ID, &a.LectureID, &a.ArticleID, &a.Num, &a.Rectif, &a.Auteur, &a.Groupe, &a.Sort, &position,
		&identique, &discussion, &parent, &a.Corps, &a.Expose,
		&a.Avis, &a.Objet, &a.Reponse, &a.Comments, &userTable, &sharedTable, &batch, &a.ModifiedAt,
	)
	if err != nil {
		return Amendement{}, err
	}
	if position.Valid {
		p := int(position.Int32)
		a.Position = &p
	}
	a.IDIdentique = int64Ptr(identique)
	a.IDDiscussionCommune = int64Ptr(discussion)
	a.ParentID = int64Ptr(parent)
	a.Location = Location{
		UserTableID:   int64Ptr(userTable),
		SharedTableID: int64Ptr(sharedTable),
		BatchID:       int64Ptr(batch),
	}
	return a, nil
}

func (t *pgTx) InsertAmendement(ctx context.Context, a Amendement) (Amendement, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO amendements (lecture_id, article_id, num, rectif, auteur, groupe, sort, position,
			id_identique, id_discussion_commune, parent_id, corps, expose, avis, objet, reponse, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, modified_at
	`, a.LectureID, a.ArticleID, a.Num, a.Rectif, a.Auteur, a.Groupe, a.Sort, nullInt(a.Position),
		nullInt64(a.IDIdentique), nullInt64(a.IDDiscussionCommune), nullInt64(a.ParentID), a.Corps, a.Expose,
		a.Avis, a.Objet, a.Reponse, a.Comments).Scan(&a.ID, &a.ModifiedAt)
	if err != nil {
		return Amendement{}, fmt.Errorf("insert amendement: %w", mapConstraintError(err))
	}
	a.Location = Location{}
	return a, nil
}

func (t *pgTx) UpdateAmendement(ctx context.Context, a Amendement) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE amendements SET article_id=$2, rectif=$3, auteur=$4, groupe=$5, sort=$6, position=$7,
			id_identique=$8, id_discussion_commune=$9, parent_id=$10, corps=$11, expose=$12,
			avis=$13, objet=$14, reponse=$15, comments=$16
		WHERE id=$1
	`, a.ID, a.ArticleID, a.Rectif, a.Auteur, a.Groupe, a.Sort, nullInt(a.Position),
		nullInt64(a.IDIdentique), nullInt64(a.IDDiscussionCommune), nullInt64(a.ParentID), a.Corps, a.Expose,
		a.Avis, a.Objet, a.Reponse, a.Comments)
	if err != nil {
		return fmt.Errorf("update amendement: %w", mapConstraintError(err))
	}
	return expectOne(res, "update amendement")
}

func (t *pgTx) GetAmendement(ctx context.Context, id int64) (Amendement, error) {
	a, err := scanAmendement(t.tx.QueryRowContext(ctx, `SELECT `+amendementColumns+` FROM amendements WHERE id=$1`, id))
	if err != nil {
		return Amendement{}, notFound(err, "get amendement")
	}
	return a, nil
}

func (t *pgTx) GetAmendementByNum(ctx context.Context, lectureID int64, num int) (Amendement, error) {
	a, err := scanAmendement(t.tx.QueryRowContext(ctx, `
		SELECT `+amendementColumns+` FROM amendements WHERE lecture_id=$1 AND num=$2
	`, lectureID, num))
	if err != nil {
		return Amendement{}, notFound(err, "get amendement by num")
	}
	return a, nil
}

func (t *pgTx) ListAmendements(ctx context.Context, lectureID int64) ([]Amendement, error) {
	return t.queryAmendements(ctx, "list amendements",
		`SELECT `+amendementColumns+` FROM amendements WHERE lecture_id=$1 ORDER BY num`, lectureID)
}

func (t *pgTx) LockAmendement(ctx context.Context, id int64) (Amendement, error) {
	a, err := scanAmendement(t.tx.QueryRowContext(ctx, `SELECT `+amendementColumns+` FROM amendements WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Amendement{}, notFound(err, "lock amendement")
	}
	return a, nil
}

func (t *pgTx) SetLocation(ctx context.Context, amendementID int64, loc Location) error {
	if !loc.Valid() {
		return fmt.Errorf("set location: %w: more than one holder", ErrDuplicateAssignment)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE amendements SET user_table_id=$2, shared_table_id=$3, batch_id=$4 WHERE id=$1
	`, amendementID, nullInt64(loc.UserTableID), nullInt64(loc.SharedTableID), nullInt64(loc.BatchID))
	if err != nil {
		return fmt.Errorf("set location: %w", mapConstraintError(err))
	}
	return expectOne(res, "set location")
}

func (t *pgTx) TouchAmendement(ctx context.Context, id int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE amendements SET modified_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("touch amendement: %w", err)
	}
	return expectOne(res, "touch amendement")
}

func (t *pgTx) ModifiedSince(ctx context.Context, lectureID int64, threshold time.Time) ([]int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT num FROM amendements WHERE lecture_id=$1 AND modified_at >= $2 ORDER BY num
	`, lectureID, threshold)
	if err != nil {
		return nil, fmt.Errorf("list modified amendements: %w", err)
	}
	defer rows.Close()

	nums := make([]int, 0)
	for rows.Next() {
		var num int
		if err := rows.Scan(&num); err != nil {
			return nil, fmt.Errorf("scan modified amendement: %w", err)
		}
		nums = append(nums, num)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modified amendements: %w", err)
	}
	return nums, nil
}

func (t *pgTx) queryAmendements(ctx context.Context, op, query string, args ...any) ([]Amendement, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]Amendement, 0)
	for rows.Next() {
		a, err := scanAmendement(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return items, nil
}

func (t *pgTx) EnsureUser(ctx context.Context, email, name string) (User, error) {
	var u User
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO users (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END
		RETURNING id, email, name, role, created_at
	`, email, name).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (t *pgTx) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := t.tx.QueryRowContext(ctx, `SELECT id, email, name, role, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "get user")
	}
	return u, nil
}

func (t *pgTx) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := t.tx.QueryRowContext(ctx, `SELECT id, email, name, role, created_at FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err, "get user by email")
	}
	return u, nil
}

func (t *pgTx) SetUserRole(ctx context.Context, id int64, role string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE users SET role=$2 WHERE id=$1`, id, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return expectOne(res, "set user role")
}

func (t *pgTx) EnsureUserTable(ctx context.Context, userID, lectureID int64) (UserTable, error) {
	table := UserTable{UserID: userID, LectureID: lectureID}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO user_tables (user_id, lecture_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, lecture_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id
	`, userID, lectureID).Scan(&table.ID)
	if err != nil {
		return UserTable{}, fmt.Errorf("upsert user table: %w", err)
	}
	return table, nil
}

func (t *pgTx) GetUserTable(ctx context.Context, id int64) (UserTable, error) {
	var table UserTable
	err := t.tx.QueryRowContext(ctx, `SELECT id, user_id, lecture_id FROM user_tables WHERE id=$1`, id).
		Scan(&table.ID, &table.UserID, &table.LectureID)
	if err != nil {
		return UserTable{}, notFound(err, "get user table")
	}
	return table, nil
}

func (t *pgTx) CreateSharedTable(ctx context.Context, table SharedTable) (SharedTable, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO shared_tables (lecture_id, slug, titre) VALUES ($1, $2, $3) RETURNING id
	`, table.LectureID, table.Slug, table.Titre).Scan(&table.ID)
	if err != nil {
		return SharedTable{}, fmt.Errorf("insert shared table: %w", mapConstraintError(err))
	}
	return table, nil
}

func (t *pgTx) GetSharedTable(ctx context.Context, id int64) (SharedTable, error) {
	var table SharedTable
	err := t.tx.QueryRowContext(ctx, `SELECT id, lecture_id, slug, titre FROM shared_tables WHERE id=$1`, id).
		Scan(&table.ID, &table.LectureID, &table.Slug, &table.Titre)
	if err != nil {
		return SharedTable{}, notFound(err, "get shared table")
	}
	return table, nil
}

func (t *pgTx) GetSharedTableBySlug(ctx context.Context, lectureID int64, slug string) (SharedTable, error) {
	var table SharedTable
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, lecture_id, slug, titre FROM shared_tables WHERE lecture_id=$1 AND slug=$2
	`, lectureID, slug).Scan(&table.ID, &table.LectureID, &table.Slug, &table.Titre)
	if err != nil {
		return SharedTable{}, notFound(err, "get shared table by slug")
	}
	return table, nil
}

func (t *pgTx) ListSharedTables(ctx context.Context, lectureID int64) ([]SharedTable, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, lecture_id, slug, titre FROM shared_tables WHERE lecture_id=$1 ORDER BY titre
	`, lectureID)
	if err != nil {
		return nil, fmt.Errorf("list shared tables: %w", err)
	}
	defer rows.Close()

	items := make([]SharedTable, 0)
	for rows.Next() {
		var table SharedTable
		if err := rows.Scan(&table.ID, &table.LectureID, &table.Slug, &table.Titre); err != nil {
			return nil, fmt.Errorf("scan shared table: %w", err)
		}
		items = append(items, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shared tables: %w", err)
	}
	return items, nil
}

func (t *pgTx) CreateBatch(ctx context.Context, b Batch) (Batch, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO batches (lecture_id, user_table_id) VALUES ($1, $2) RETURNING id
	`, b.LectureID, nullInt64(b.UserTableID)).Scan(&b.ID)
	if err != nil {
		return Batch{}, fmt.Errorf("insert batch: %w", err)
	}
	return b, nil
}

func (t *pgTx) GetBatch(ctx context.Context, id int64) (Batch, error) {
	var (
		b     Batch
		owner sql.NullInt64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT id, lecture_id, user_table_id FROM batches WHERE id=$1`, id).
		Scan(&b.ID, &b.LectureID, &owner)
	if err != nil {
		return Batch{}, notFound(err, "get batch")
	}
	b.UserTableID = int64Ptr(owner)
	return b, nil
}

func (t *pgTx) SetBatchOwner(ctx context.Context, id int64, userTableID *int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE batches SET user_table_id=$2 WHERE id=$1`, id, nullInt64(userTableID))
	if err != nil {
		return fmt.Errorf("set batch owner: %w", err)
	}
	return expectOne(res, "set batch owner")
}

func (t *pgTx) DeleteBatch(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM batches WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", mapConstraintError(err))
	}
	return expectOne(res, "delete batch")
}

func (t *pgTx) BatchMembers(ctx context.Context, batchID int64) ([]Amendement, error) {
	return t.queryAmendements(ctx, "list batch members",
		`SELECT `+amendementColumns+` FROM amendements WHERE batch_id=$1 ORDER BY num`, batchID)
}

func (t *pgTx) AppendEvent(ctx context.Context, e events.Event) (events.Event, error) {
	data, err := events.EncodePayload(e.Payload)
	if err != nil {
		return events.Event{}, err
	}
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return events.Event{}, fmt.Errorf("encode event meta: %w", err)
	}
	var userID *int64
	if e.Actor != nil {
		userID = &e.Actor.ID
	}
	err = t.tx.QueryRowContext(ctx, `
		INSERT INTO events (id, kind, created_at, user_id, subject_type, subject_id, lecture_id, data, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`, e.ID, string(e.Kind), e.CreatedAt, nullInt64(userID), string(e.Subject.Type), e.Subject.ID,
		e.LectureID, data, meta).Scan(&e.Seq)
	if err != nil {
		return events.Event{}, fmt.Errorf("append event %s: %w", e.Kind, err)
	}
	return e, nil
}

func (t *pgTx) ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error) {
	query := `
		SELECT e.id, e.seq, e.kind, e.created_at, e.subject_type, e.subject_id, e.lecture_id, e.data, e.meta,
			u.id, COALESCE(u.email, ''), COALESCE(u.name, '')
		FROM events e
		LEFT JOIN users u ON u.id = e.user_id
		WHERE e.lecture_id = $1`
	args := []any{filter.LectureID}
	if filter.Subject != nil {
		query += ` AND e.subject_type = $2 AND e.subject_id = $3`
		args = append(args, string(filter.Subject.Type), filter.Subject.ID)
	}
	query += ` ORDER BY e.created_at, e.seq`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]events.Event, 0)
	for rows.Next() {
		var (
			e           events.Event
			id          uuid.UUID
			kind, stype string
			data, meta  []byte
			userID      sql.NullInt64
			email, name string
		)
		if err := rows.Scan(&id, &e.Seq, &kind, &e.CreatedAt, &stype, &e.Subject.ID, &e.LectureID, &data, &meta,
			&userID, &email, &name); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.ID = id
		e.Kind = events.Kind(kind)
		e.Subject.Type = events.SubjectType(stype)
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Payload, err = events.DecodePayload(e.Kind, data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return nil, fmt.Errorf("decode event meta: %w", err)
		}
		if userID.Valid {
			e.Actor = &events.Actor{ID: userID.Int64, Email: email, Name: name}
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
