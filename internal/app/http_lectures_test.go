package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"repondeur/api/internal/events"
	"repondeur/api/internal/refresh"
	"repondeur/api/internal/store"
)

const (
	jeanneEmail = "jeanne@exemple.gouv.fr"
	paulEmail   = "paul@exemple.gouv.fr"
)

type lectureEnv struct {
	*testEnv
	admin   string
	jeanne  string
	lecture LectureView
}

func (e *lectureEnv) path(format string, args ...any) string {
	return fmt.Sprintf("/api/lectures/%d", e.lecture.ID) + fmt.Sprintf(format, args...)
}

// newLectureEnv creates a lecture with amendements 666 and 999 on article 1
// and 1234 on article 2, all in the index.
func newLectureEnv(t *testing.T) *lectureEnv {
	t.Helper()
	env := &lectureEnv{testEnv: newTestEnv(t)}
	env.admin = env.login(adminEmail, "Admin")
	env.jeanne = env.login(jeanneEmail, "Jeanne")
	env.login(paulEmail, "Paul")

	rr := env.do(http.MethodPost, "/api/lectures", env.admin, `{"chambre":"an","session":"15","num_texte":269,"organe":"PO717460","titre":"Projet de loi de financement"}`)
	expectStatus(t, rr, http.StatusCreated)
	decode(t, rr, &env.lecture)

	rr = env.do(http.MethodPost, env.path("/amendements"), env.admin, `{"amendements":[
		{"num":"666","article":"Article 1","position":1,"auteur":"M. Dupont","groupe":"LREM"},
		{"num":"999","article":"Article 1","position":2,"auteur":"Mme Durand","groupe":"LR"},
		{"num":"1234","article":"Article 2","position":3,"auteur":"M. Martin","groupe":"GDR"}
	]}`)
	expectStatus(t, rr, http.StatusOK)
	return env
}

func (e *lectureEnv) transfer(token, target string, nums ...int) {
	e.t.Helper()
	rr := e.do(http.MethodPost, e.path("/transfer"), token, fmt.Sprintf(`{"nums":%s,"target":%q}`, jsonInts(nums), target))
	expectStatus(e.t, rr, http.StatusFound)
}

func (e *lectureEnv) saveReponse(token string, num int, avis, reponse string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, e.path("/amendements/%d/reponse", num), token, fmt.Sprintf(`{"avis":%q,"reponse":%q}`, avis, reponse))
}

func (e *lectureEnv) table(email string) TableView {
	e.t.Helper()
	rr := e.do(http.MethodGet, e.path("/tables/%s", email), e.jeanne, "")
	expectStatus(e.t, rr, http.StatusOK)
	var view TableView
	decode(e.t, rr, &view)
	return view
}

func (e *lectureEnv) detail(num int) AmendementDetail {
	e.t.Helper()
	rr := e.do(http.MethodGet, e.path("/amendements/%d", num), e.jeanne, "")
	expectStatus(e.t, rr, http.StatusOK)
	var view AmendementDetail
	decode(e.t, rr, &view)
	return view
}

func jsonInts(nums []int) string {
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, fmt.Sprint(n))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func tableNums(view TableView) []int {
	nums := make([]int, 0, len(view.Amendements))
	for _, a := range view.Amendements {
		nums = append(nums, a.Num)
	}
	return nums
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndListLectures(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodGet, "/api/lectures", env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var payload struct {
		Lectures []LectureView `json:"lectures"`
	}
	decode(t, rr, &payload)
	if len(payload.Lectures) != 1 || payload.Lectures[0].ID != env.lecture.ID {
		t.Fatalf("unexpected lectures %+v", payload.Lectures)
	}

	rr = env.do(http.MethodPost, "/api/lectures", env.admin, `{"chambre":"an","session":"15","num_texte":269,"organe":"PO717460"}`)
	expectCode(t, rr, http.StatusConflict, "LECTURE_EXISTS")

	rr = env.do(http.MethodPost, "/api/lectures", env.admin, `{"chambre":"cnr","session":"15","num_texte":1,"organe":"X"}`)
	expectCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = env.do(http.MethodGet, "/api/lectures/424242", env.jeanne, "")
	expectCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestIndexListsAmendementsInOrder(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodGet, env.path("/amendements"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var index IndexView
	decode(t, rr, &index)

	got := make([]int, 0, len(index.Amendements))
	for _, a := range index.Amendements {
		got = append(got, a.Num)
		if a.Location.Key != "" || a.Location.Holder != "" {
			t.Fatalf("expected %d in the index, got %+v", a.Num, a.Location)
		}
	}
	if !equalInts(got, []int{666, 999, 1234}) {
		t.Fatalf("unexpected index order %v", got)
	}
	if index.Amendements[0].Article != "article.1.." {
		t.Fatalf("unexpected article key %q", index.Amendements[0].Article)
	}
}

func TestTransferMovesAmendementsBetweenTables(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodPost, env.path("/transfer"), env.jeanne, `{"nums":["666",999],"target":"jeanne@exemple.gouv.fr"}`)
	expectStatus(t, rr, http.StatusFound)
	if got, want := rr.Header().Get("Location"), tableURL(env.lecture.ID, jeanneEmail); got != want {
		t.Fatalf("expected redirect to %s, got %s", want, got)
	}
	var moved TransferResult
	decode(t, rr, &moved)
	if !equalInts(moved.Moved, []int{666, 999}) {
		t.Fatalf("unexpected moved %v", moved.Moved)
	}

	view := env.table(jeanneEmail)
	if view.Holder != "Jeanne (jeanne@exemple.gouv.fr)" {
		t.Fatalf("unexpected holder %q", view.Holder)
	}
	if !equalInts(tableNums(view), []int{666, 999}) {
		t.Fatalf("unexpected table %v", tableNums(view))
	}

	env.transfer(env.jeanne, paulEmail, 666)
	if got := tableNums(env.table(jeanneEmail)); !equalInts(got, []int{999}) {
		t.Fatalf("unexpected table after transfer %v", got)
	}
	if got := env.table(paulEmail); !equalInts(tableNums(got), []int{666}) || got.Amendements[0].Location.Holder != "Paul (paul@exemple.gouv.fr)" {
		t.Fatalf("unexpected table for Paul %+v", got)
	}

	env.transfer(env.jeanne, "", 999)
	if got := tableNums(env.table(jeanneEmail)); len(got) != 0 {
		t.Fatalf("expected an empty table, got %v", got)
	}

	rr = env.do(http.MethodPost, env.path("/amendements/999/journal"), env.jeanne, "")
	expectStatus(t, rr, http.StatusMethodNotAllowed)
	rr = env.do(http.MethodGet, env.path("/amendements/999/journal"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var journal struct {
		Journal []JournalEntry `json:"journal"`
	}
	decode(t, rr, &journal)
	transfers := 0
	for i, entry := range journal.Journal {
		if i > 0 && entry.CreatedAt.Before(journal.Journal[i-1].CreatedAt) {
			t.Fatal("expected amendement journal oldest first")
		}
		if entry.Kind == events.AmendementTransfere {
			transfers++
		}
	}
	if transfers != 2 {
		t.Fatalf("expected 2 transfers of 999, got %d", transfers)
	}
}

func TestTransferRejectsUnknownTargets(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodPost, env.path("/transfer"), env.jeanne, `{"nums":[666],"target":"inconnu@exemple.gouv.fr"}`)
	expectCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = env.do(http.MethodPost, env.path("/transfer"), env.jeanne, `{"nums":[666],"target":"boite-inexistante"}`)
	expectCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = env.do(http.MethodPost, env.path("/transfer"), env.jeanne, `{"nums":[],"target":""}`)
	expectCode(t, rr, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr = env.do(http.MethodPost, env.path("/transfer"), env.jeanne, `{"nums":[4242],"target":""}`)
	expectCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestBatchCollapsesOnTableAndUnbatchReleasesLastMember(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666, 999)

	rr := env.saveReponse(env.jeanne, 666, "Favorable", "Très bon amendement.")
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,999]}`)
	expectStatus(t, rr, http.StatusFound)
	var batch BatchResult
	decode(t, rr, &batch)
	if batch.BatchID == nil || !equalInts(batch.Nums, []int{666, 999}) {
		t.Fatalf("unexpected batch result %+v", batch)
	}

	view := env.table(jeanneEmail)
	if len(view.Amendements) != 1 {
		t.Fatalf("expected the batch collapsed to one row, got %v", tableNums(view))
	}
	row := view.Amendements[0]
	if row.BatchID == nil || *row.BatchID != *batch.BatchID || !equalInts(row.BatchNums, []int{666, 999}) {
		t.Fatalf("unexpected batch row %+v", row)
	}
	if row.Location.Holder != "Jeanne (jeanne@exemple.gouv.fr)" {
		t.Fatalf("expected batch held by its owner, got %q", row.Location.Holder)
	}

	shared := env.detail(999)
	if shared.Avis != "Favorable" || shared.Reponse != "Très bon amendement." {
		t.Fatalf("expected the reponse copied to 999, got %+v", shared.AmendementView)
	}

	rr = env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[999]}`)
	expectStatus(t, rr, http.StatusFound)

	view = env.table(jeanneEmail)
	if !equalInts(tableNums(view), []int{666, 999}) {
		t.Fatalf("expected both amendements back on the table, got %v", tableNums(view))
	}
	for _, a := range view.Amendements {
		if a.BatchID != nil {
			t.Fatalf("expected %d out of any batch, got %+v", a.Num, a)
		}
	}

	rr = env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[999]}`)
	expectCode(t, rr, http.StatusConflict, "NOT_IN_BATCH")
}

func TestBatchRejections(t *testing.T) {
	t.Run("not on table", func(t *testing.T) {
		env := newLectureEnv(t)
		env.transfer(env.jeanne, jeanneEmail, 666)
		rr := env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,999]}`)
		payload := expectCode(t, rr, http.StatusConflict, "NOT_ON_YOUR_TABLE")
		details, _ := payload["details"].(map[string]any)
		nums, _ := details["nums"].([]any)
		if len(nums) != 1 || nums[0] != float64(999) {
			t.Fatalf("unexpected details %+v", payload["details"])
		}
	})

	t.Run("different reponses", func(t *testing.T) {
		env := newLectureEnv(t)
		env.transfer(env.jeanne, jeanneEmail, 666, 999)
		expectStatus(t, env.saveReponse(env.jeanne, 666, "Favorable", "Oui."), http.StatusOK)
		expectStatus(t, env.saveReponse(env.jeanne, 999, "Défavorable", "Non."), http.StatusOK)
		rr := env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,999]}`)
		expectCode(t, rr, http.StatusConflict, "DIFFERENT_REPONSES")
	})

	t.Run("different articles", func(t *testing.T) {
		env := newLectureEnv(t)
		env.transfer(env.jeanne, jeanneEmail, 666, 1234)
		rr := env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,1234]}`)
		expectCode(t, rr, http.StatusConflict, "DIFFERENT_ARTICLES")
	})
}

func TestTransferOfBatchedAmendementMovesWholeBatch(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666, 999)
	expectStatus(t, env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,999]}`), http.StatusFound)

	env.transfer(env.jeanne, paulEmail, 999)

	if got := tableNums(env.table(jeanneEmail)); len(got) != 0 {
		t.Fatalf("expected Jeanne's table empty, got %v", got)
	}
	view := env.table(paulEmail)
	if len(view.Amendements) != 1 || !equalInts(view.Amendements[0].BatchNums, []int{666, 999}) {
		t.Fatalf("expected the batch on Paul's table, got %+v", view.Amendements)
	}
}

func TestSaveReponseAppliesToWholeBatch(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666, 999)
	expectStatus(t, env.do(http.MethodPost, env.path("/batch"), env.jeanne, `{"nums":[666,999]}`), http.StatusFound)

	rr := env.do(http.MethodPost, env.path("/amendements/999/start_editing"), env.jeanne, `{}`)
	expectStatus(t, rr, http.StatusOK)
	if !env.detail(999).BeingEdited {
		t.Fatal("expected 999 to be shown as being edited")
	}

	rr = env.saveReponse(env.jeanne, 999, "  Défavorable  ", "Satisfait par le droit existant.")
	expectStatus(t, rr, http.StatusOK)
	var saved SaveResult
	decode(t, rr, &saved)
	sort.Ints(saved.Saved)
	if !equalInts(saved.Saved, []int{666, 999}) {
		t.Fatalf("expected both members saved, got %v", saved.Saved)
	}
	if env.detail(999).BeingEdited {
		t.Fatal("expected the edit claim released after saving")
	}

	for _, num := range []int{666, 999} {
		detail := env.detail(num)
		if detail.Avis != "Défavorable" || detail.Reponse != "Satisfait par le droit existant." {
			t.Fatalf("unexpected content for %d: %+v", num, detail.AmendementView)
		}
	}

	ctx := context.Background()
	err := env.service.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAmendementByNum(ctx, env.lecture.ID, 666)
		if err != nil {
			return err
		}
		subject := events.Amendement(a.ID)
		journal, err := tx.ListEvents(ctx, store.EventFilter{LectureID: env.lecture.ID, Subject: &subject})
		if err != nil {
			return err
		}
		replayed := events.Replay(journal)
		if replayed.Avis != a.Avis || replayed.Reponse != a.Reponse {
			t.Fatalf("replayed state %+v does not match %+v", replayed, a.UserContent)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	rr = env.saveReponse(env.jeanne, 999, "Défavorable", "Satisfait par le droit existant.")
	expectStatus(t, rr, http.StatusOK)
	rr = env.do(http.MethodGet, env.path("/amendements/999/journal"), env.jeanne, "")
	var journal struct {
		Journal []JournalEntry `json:"journal"`
	}
	decode(t, rr, &journal)
	edits := 0
	for _, entry := range journal.Journal {
		if entry.Kind == events.ReponseAmendementModifiee {
			edits++
		}
	}
	if edits != 1 {
		t.Fatalf("expected an unchanged save to record nothing, got %d reponse edits", edits)
	}
}

func TestSaveReponseStolenWhileEditing(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666)
	expectStatus(t, env.do(http.MethodPost, env.path("/amendements/666/start_editing"), env.jeanne, `{}`), http.StatusOK)

	env.transfer(env.admin, paulEmail, 666)

	rr := env.saveReponse(env.jeanne, 666, "Favorable", "Ma réponse.")
	payload := expectCode(t, rr, http.StatusConflict, "STOLEN_WHILE_EDITING")
	message, _ := payload["error"].(string)
	if !strings.Contains(message, "Paul (paul@exemple.gouv.fr)") {
		t.Fatalf("expected the new holder in %q", message)
	}
	if env.detail(666).Reponse != "" {
		t.Fatal("expected nothing saved")
	}
}

func TestSaveReponseNotOnYourTable(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, paulEmail, 999)

	rr := env.saveReponse(env.jeanne, 999, "Favorable", "Ma réponse.")
	payload := expectCode(t, rr, http.StatusConflict, "NOT_ON_YOUR_TABLE")
	message, _ := payload["error"].(string)
	if !strings.Contains(message, "Paul") {
		t.Fatalf("expected the holder in %q", message)
	}

	rr = env.saveReponse(env.jeanne, 1234, "Favorable", "Ma réponse.")
	expectCode(t, rr, http.StatusConflict, "NOT_ON_YOUR_TABLE")
}

func TestSaveReponseFailsClosedWhenEditLockIsDown(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666)

	env.redis.SetError("connection refused")
	rr := env.saveReponse(env.jeanne, 666, "Favorable", "Ma réponse.")
	expectCode(t, rr, http.StatusServiceUnavailable, "EDIT_LOCK_UNAVAILABLE")
	rr = env.do(http.MethodPost, env.path("/amendements/666/start_editing"), env.jeanne, `{}`)
	expectCode(t, rr, http.StatusServiceUnavailable, "EDIT_LOCK_UNAVAILABLE")
	env.redis.SetError("")

	if env.detail(666).Reponse != "" {
		t.Fatal("expected nothing saved while the edit lock store was down")
	}
}

func TestCheckReportsModifiedAmendements(t *testing.T) {
	env := newLectureEnv(t)
	env.transfer(env.jeanne, jeanneEmail, 666)
	expectStatus(t, env.saveReponse(env.jeanne, 666, "Favorable", "Oui."), http.StatusOK)

	rr := env.do(http.MethodGet, env.path("/check?since=0"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var check struct {
		ModifiedAt int64    `json:"modified_at"`
		Nums       []string `json:"modified_amendements_numbers"`
	}
	decode(t, rr, &check)
	found := false
	for _, num := range check.Nums {
		found = found || num == "666"
	}
	if !found || check.ModifiedAt == 0 {
		t.Fatalf("expected 666 reported as modified, got %+v", check)
	}

	rr = env.do(http.MethodGet, env.path("/check?since=%d", check.ModifiedAt), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	decode(t, rr, &check)
	if len(check.Nums) != 0 {
		t.Fatalf("expected nothing modified since the last poll, got %v", check.Nums)
	}

	rr = env.do(http.MethodGet, env.path("/check?since=hier"), env.jeanne, "")
	expectCode(t, rr, http.StatusBadRequest, "INVALID_QUERY")

	rr = env.do(http.MethodGet, "/api/lectures/424242/check?since=0", env.jeanne, "")
	expectCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestSharedTables(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodPost, env.path("/shared_tables"), env.admin, `{"titre":"Boîte à réponses"}`)
	expectStatus(t, rr, http.StatusCreated)
	var table SharedTableView
	decode(t, rr, &table)
	if table.Slug != "boite-a-reponses" {
		t.Fatalf("unexpected slug %q", table.Slug)
	}

	rr = env.do(http.MethodPost, env.path("/shared_tables"), env.admin, `{"titre":"Boîte à réponses"}`)
	expectCode(t, rr, http.StatusConflict, "SHARED_TABLE_EXISTS")

	env.transfer(env.jeanne, table.Slug, 666)

	rr = env.do(http.MethodGet, env.path("/shared_tables/%s", table.Slug), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var view TableView
	decode(t, rr, &view)
	if view.Kind != "shared_table" || view.Holder != "Boîte à réponses" || !equalInts(tableNums(view), []int{666}) {
		t.Fatalf("unexpected shared table %+v", view)
	}

	rr = env.do(http.MethodGet, env.path("/shared_tables"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var list struct {
		Tables []SharedTableView `json:"shared_tables"`
	}
	decode(t, rr, &list)
	if len(list.Tables) != 1 || list.Tables[0].ID != table.ID {
		t.Fatalf("unexpected shared tables %+v", list.Tables)
	}

	rr = env.saveReponse(env.jeanne, 666, "Favorable", "Oui.")
	expectCode(t, rr, http.StatusConflict, "NOT_ON_YOUR_TABLE")
}

func TestEditArticle(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodPost, env.path("/articles/article.1.."), env.jeanne, `{"titre":"  Dispositions générales  "}`)
	expectStatus(t, rr, http.StatusOK)
	var article ArticleView
	decode(t, rr, &article)
	if article.Titre != "Dispositions générales" || article.Key != "article.1.." {
		t.Fatalf("unexpected article %+v", article)
	}

	rr = env.do(http.MethodPost, env.path("/articles/article.1.."), env.jeanne, `{"presentation":"<p>Cet article fixe le cadre.</p>"}`)
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(http.MethodGet, env.path("/articles/article.1../journal"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var journal struct {
		Journal []JournalEntry `json:"journal"`
	}
	decode(t, rr, &journal)
	if len(journal.Journal) < 2 {
		t.Fatalf("expected the article edits in the journal, got %+v", journal.Journal)
	}
	if journal.Journal[0].Kind != events.PresentationArticleModifiee || journal.Journal[1].Kind != events.TitreArticleModifie {
		t.Fatalf("expected article journal newest first, got %s then %s", journal.Journal[0].Kind, journal.Journal[1].Kind)
	}

	rr = env.do(http.MethodGet, env.path("/articles/pas-un-article"), env.jeanne, "")
	expectCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestLectureJournalIsNewestFirst(t *testing.T) {
	env := newLectureEnv(t)

	rr := env.do(http.MethodGet, env.path("/journal"), env.jeanne, "")
	expectStatus(t, rr, http.StatusOK)
	var journal struct {
		Journal []JournalEntry `json:"journal"`
	}
	decode(t, rr, &journal)
	if len(journal.Journal) == 0 {
		t.Fatal("expected lecture events")
	}
	last := journal.Journal[len(journal.Journal)-1]
	if last.Kind != events.LectureCreee || last.Actor == nil || last.Actor.Email != adminEmail {
		t.Fatalf("expected the creation as the oldest entry, got %+v", last)
	}
	for i := 1; i < len(journal.Journal); i++ {
		if journal.Journal[i].CreatedAt.After(journal.Journal[i-1].CreatedAt) {
			t.Fatal("expected lecture journal newest first")
		}
	}
}

func TestRefreshWithoutProviderIsUnavailable(t *testing.T) {
	env := newLectureEnv(t)
	rr := env.do(http.MethodPost, env.path("/refresh"), env.admin, `{}`)
	expectCode(t, rr, http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE")
	rr = env.do(http.MethodGet, env.path("/refresh"), env.jeanne, "")
	expectCode(t, rr, http.StatusServiceUnavailable, "REFRESH_UNAVAILABLE")
}

type staticProvider []refresh.RawAmendement

func (p staticProvider) Fetch(context.Context, store.Lecture) ([]refresh.RawAmendement, error) {
	return p, nil
}

func TestRefreshStatusIsPolled(t *testing.T) {
	env := newTestEnvWithProvider(t, staticProvider{{Num: "42", Article: "Article 1"}})
	admin := env.login(adminEmail, "Admin")
	jeanne := env.login(jeanneEmail, "Jeanne")
	rr := env.do(http.MethodPost, "/api/lectures", admin, `{"chambre":"an","session":"15","num_texte":269,"organe":"PO717460"}`)
	expectStatus(t, rr, http.StatusCreated)
	var lecture LectureView
	decode(t, rr, &lecture)
	path := fmt.Sprintf("/api/lectures/%d/refresh", lecture.ID)

	expectCode(t, env.do(http.MethodGet, path, jeanne, ""), http.StatusNotFound, "NOT_FOUND")
	expectStatus(t, env.do(http.MethodPost, path, admin, `{}`), http.StatusAccepted)

	deadline := time.Now().Add(2 * time.Second)
	var status refresh.JobStatus
	for {
		rr = env.do(http.MethodGet, path, jeanne, "")
		expectStatus(t, rr, http.StatusOK)
		decode(t, rr, &status)
		if status.State == refresh.JobDone {
			break
		}
		if status.State == refresh.JobFailed || time.Now().After(deadline) {
			t.Fatalf("refresh did not complete: %+v", status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if status.LectureID != lecture.ID || status.Result == nil || status.Result.Created != 1 || status.Attempts != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	rr = env.do(http.MethodGet, fmt.Sprintf("/api/lectures/%d/amendements/42", lecture.ID), jeanne, "")
	expectStatus(t, rr, http.StatusOK)
}
