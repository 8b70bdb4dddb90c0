package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateFormSnapshotsInitialVersion(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	ctx := context.Background()

	form := &Form{FormType: "ics213", PayloadJSON: `{"to":"Ops"}`, CreatedBy: 1, UpdatedBy: 1}
	id, err := forms.CreateForm(ctx, form)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if form.UUID == "" {
		t.Fatalf("expected uuid to be assigned")
	}
	if form.State != "draft" || form.Version != 1 {
		t.Fatalf("expected draft v1, got %s v%d", form.State, form.Version)
	}

	versions, err := forms.ListFormVersions(ctx, id)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(versions))
	}
	if versions[0].Version != 1 || versions[0].ChangeReason != "created" || versions[0].PayloadJSON != `{"to":"Ops"}` {
		t.Fatalf("unexpected snapshot: %+v", versions[0])
	}

	got, err := forms.GetFormByUUID(ctx, form.UUID)
	if err != nil || got == nil {
		t.Fatalf("get by uuid: %v %v", got, err)
	}
	if got.ID != id {
		t.Fatalf("uuid lookup returned id %d, want %d", got.ID, id)
	}
}

func TestUpdateFormBumpsVersionAndSnapshots(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	ctx := context.Background()

	form := &Form{FormType: "ics213", PayloadJSON: `{}`, CreatedBy: 1, UpdatedBy: 1}
	id, err := forms.CreateForm(ctx, form)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	form.PayloadJSON = `{"subject":"updated"}`
	if err := forms.UpdateForm(ctx, form, 1, "edit"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if form.Version != 2 {
		t.Fatalf("expected version 2, got %d", form.Version)
	}

	got, err := forms.GetForm(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Version != 2 || got.PayloadJSON != `{"subject":"updated"}` {
		t.Fatalf("unexpected persisted form: v%d %s", got.Version, got.PayloadJSON)
	}

	versions, err := forms.ListFormVersions(ctx, id)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(versions))
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Fatalf("snapshot %d has version %d, want %d", i, v.Version, i+1)
		}
	}

	snap, err := forms.GetFormVersion(ctx, id, 1)
	if err != nil || snap == nil {
		t.Fatalf("get version 1: %v %v", snap, err)
	}
	if snap.PayloadJSON != `{}` {
		t.Fatalf("version 1 payload changed: %s", snap.PayloadJSON)
	}
}

func TestUpdateFormStaleVersionConflicts(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	ctx := context.Background()

	form := &Form{FormType: "ics214", CreatedBy: 1, UpdatedBy: 1}
	if _, err := forms.CreateForm(ctx, form); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := forms.UpdateForm(ctx, form, 1, "first"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	stale := *form
	err := forms.UpdateForm(ctx, &stale, 1, "stale")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	versions, _ := forms.ListFormVersions(ctx, form.ID)
	if len(versions) != 2 {
		t.Fatalf("conflicting update left %d snapshots, want 2", len(versions))
	}
}

func TestVersionLimitPrunesOldSnapshots(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStoreWithVersionLimit(db, 3)
	ctx := context.Background()

	form := &Form{FormType: "ics213", CreatedBy: 1, UpdatedBy: 1}
	id, err := forms.CreateForm(ctx, form)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := forms.UpdateForm(ctx, form, form.Version, "edit"); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	versions, err := forms.ListFormVersions(ctx, id)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 retained snapshots, got %d", len(versions))
	}
	if versions[len(versions)-1].Version != 6 {
		t.Fatalf("expected newest snapshot v6, got v%d", versions[len(versions)-1].Version)
	}
}

func TestSoftDeleteHidesAndRestoreRevives(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	ctx := context.Background()

	form := &Form{FormType: "ics213", CreatedBy: 1, UpdatedBy: 1}
	id, err := forms.CreateForm(ctx, form)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := forms.SoftDeleteForm(ctx, id, 1); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	visible, err := forms.ListForms(ctx, FormFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("deleted form still listed: %d", len(visible))
	}
	all, err := forms.ListForms(ctx, FormFilter{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list deleted: %v", err)
	}
	if len(all) != 1 || all[0].DeletedAt == nil {
		t.Fatalf("expected 1 deleted form, got %+v", all)
	}

	if err := forms.SoftDeleteForm(ctx, id, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("double delete should conflict, got %v", err)
	}
	if err := forms.RestoreForm(ctx, id, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}
	visible, _ = forms.ListForms(ctx, FormFilter{})
	if len(visible) != 1 {
		t.Fatalf("restored form not listed")
	}
}

func TestListFormsFilters(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	incidents := NewIncidentsStore(db)
	ctx := context.Background()

	incidentID, err := incidents.CreateIncident(ctx, &Incident{Name: "Flood", CreatedBy: 1, UpdatedBy: 1}, "")
	if err != nil {
		t.Fatalf("create incident: %v", err)
	}
	seed := []*Form{
		{FormType: "ics213", State: "draft", PayloadJSON: `{"subject":"water supply"}`, CreatedBy: 1, UpdatedBy: 1},
		{FormType: "ics213", State: "transmitted", PayloadJSON: `{"subject":"road closure"}`, CreatedBy: 2, UpdatedBy: 2, IncidentID: &incidentID},
		{FormType: "ics214", State: "draft", PayloadJSON: `{"incident_name":"flood"}`, CreatedBy: 1, UpdatedBy: 1},
	}
	for _, f := range seed {
		if _, err := forms.CreateForm(ctx, f); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byType, _ := forms.ListForms(ctx, FormFilter{FormType: "ics214"})
	if len(byType) != 1 {
		t.Fatalf("type filter: got %d", len(byType))
	}
	byState, _ := forms.ListForms(ctx, FormFilter{StateIn: []string{"transmitted", "received"}})
	if len(byState) != 1 || byState[0].State != "transmitted" {
		t.Fatalf("state filter: got %+v", byState)
	}
	byIncident, _ := forms.ListForms(ctx, FormFilter{IncidentID: incidentID})
	if len(byIncident) != 1 {
		t.Fatalf("incident filter: got %d", len(byIncident))
	}
	byCreator, _ := forms.ListForms(ctx, FormFilter{CreatedByUserID: 1})
	if len(byCreator) != 2 {
		t.Fatalf("creator filter: got %d", len(byCreator))
	}
	bySearch, _ := forms.ListForms(ctx, FormFilter{Search: "road closure"})
	if len(bySearch) != 1 {
		t.Fatalf("search filter: got %d", len(bySearch))
	}
}

func TestArchiveStaleForms(t *testing.T) {
	db := testDB(t)
	forms := NewFormsStore(db)
	ctx := context.Background()

	stale := &Form{FormType: "ics213", State: "replied", CreatedBy: 1, UpdatedBy: 1}
	fresh := &Form{FormType: "ics213", State: "draft", CreatedBy: 1, UpdatedBy: 1}
	staleID, err := forms.CreateForm(ctx, stale)
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	if _, err := forms.CreateForm(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	cutoff := time.Now().UTC().Add(time.Minute)
	archived, err := forms.ArchiveStaleForms(ctx, []string{"replied", "returned"}, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected 1 archived, got %d", archived)
	}
	got, _ := forms.GetForm(ctx, staleID)
	if got.State != "archived" || got.ArchivedAt == nil {
		t.Fatalf("stale form not archived: %+v", got)
	}
	if got.Version != 2 {
		t.Fatalf("expected archive to snapshot v2, got v%d", got.Version)
	}

	none, err := forms.ArchiveStaleForms(ctx, nil, cutoff)
	if err != nil || none != 0 {
		t.Fatalf("expected no-op for empty states, got %d %v", none, err)
	}
}
