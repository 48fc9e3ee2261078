package cases

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patholab/lis/internal/domain/counter"
	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/internal/platform/calendar"
)

// 2025-02-03 is a Monday.
var baseTime = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *memRepo
	codes *memCodes
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{repo: newMemRepo(), codes: newMemCodes(), now: baseTime}
	f.svc = NewService(f.repo, f.codes, directTx{}, NewMachine(calendar.Default()),
		WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func strPtr(s string) *string { return &s }

func sampleInput() CreateInput {
	return CreateInput{
		PatientInfo: PatientInfo{
			PatientCode: "CC-1001",
			Name:        "Ana Pérez",
			Age:         42,
			Gender:      "F",
			EntityInfo:  EntityInfo{ID: "E1", Name: "Clínica Norte"},
			CareType:    "Ambulatorio",
		},
		Samples: []Sample{{
			BodyRegion: "Colon",
			Tests:      []TestRef{{ID: "898101", Name: "Biopsia", Quantity: 1}},
		}},
	}
}

func asPathologist(code string) context.Context {
	return auth.WithIdentity(context.Background(), &auth.Identity{UserID: "u-" + code, Role: auth.RolePathologist, PathologistCode: code})
}

func TestCreate_AssignsCodeAndDefaults(t *testing.T) {
	f := newFixture()
	c, err := f.svc.Create(context.Background(), sampleInput())
	require.NoError(t, err)

	assert.Equal(t, "2025-00001", c.CaseCode)
	assert.Equal(t, StateInProcess, c.State)
	assert.Equal(t, PriorityNormal, c.Priority)
	assert.Equal(t, c.CreatedAt, c.UpdatedAt)
	assert.Nil(t, c.SignedAt)
}

func TestCreate_RoundTrip(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.Priority = PriorityPriority
	created, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), created.CaseCode)
	require.NoError(t, err)
	assert.Equal(t, in.PatientInfo, got.PatientInfo)
	assert.Equal(t, in.Samples, got.Samples)
	assert.Equal(t, in.Priority, got.Priority)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing patient code", func(in *CreateInput) { in.PatientInfo.PatientCode = "" }},
		{"age too high", func(in *CreateInput) { in.PatientInfo.Age = 151 }},
		{"negative age", func(in *CreateInput) { in.PatientInfo.Age = -1 }},
		{"zero quantity", func(in *CreateInput) { in.Samples[0].Tests[0].Quantity = 0 }},
		{"bad priority", func(in *CreateInput) { in.Priority = "Urgente" }},
		{"half pathologist", func(in *CreateInput) { in.AssignedPathologist = &Pathologist{ID: "P1"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sampleInput()
			tt.mutate(&in)
			_, err := f.svc.Create(context.Background(), in)
			assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))
		})
	}
}

func TestCreate_ConcurrentCodesAreGapFree(t *testing.T) {
	f := newFixture()
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	var codes []string
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.svc.Create(context.Background(), sampleInput())
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			codes = append(codes, c.CaseCode)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, codes, n)
	sort.Strings(codes)
	assert.Equal(t, "2025-00001", codes[0])
	assert.Equal(t, "2025-00100", codes[n-1])
	for i := 1; i < n; i++ {
		assert.NotEqual(t, codes[i-1], codes[i])
	}
	assert.Equal(t, int64(100), f.codes.lastNumber(2025))
}

func TestCreate_ConcurrentCodesFromCounterService(t *testing.T) {
	counters := counter.NewService(newMemCounterRepo(), time.Second)
	repo := newMemRepo()
	svc := NewService(repo, counters, directTx{}, NewMachine(calendar.Default()),
		WithClock(func() time.Time { return baseTime }))
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := svc.Create(context.Background(), sampleInput())
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			mu.Lock()
			seen[c.CaseCode] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for i := 1; i <= n; i++ {
		code, err := counter.FormatCaseCode(2025, int64(i))
		require.NoError(t, err)
		assert.True(t, seen[code], "missing %s", code)
	}
	next, err := counters.Peek(context.Background(), counter.KeyCase, 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), next)
}

func TestCreate_DuplicateCode(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Create(context.Background(), sampleInput())
	require.NoError(t, err)

	f.codes.last[2025] = 0
	_, err = f.svc.Create(context.Background(), sampleInput())
	assert.Equal(t, apperr.KindDuplicateCode, apperr.KindOf(err))
}

func TestCreate_CounterFailure(t *testing.T) {
	f := newFixture()
	f.codes.err = apperr.CounterUnavailable(errors.New("down"))
	_, err := f.svc.Create(context.Background(), sampleInput())
	assert.Equal(t, apperr.KindCounterUnavailable, apperr.KindOf(err))
	assert.Empty(t, f.repo.store)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Get(context.Background(), "2025-09999")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdate_MergesAndReplacesPatientInfo(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())
	f.advance(time.Minute)

	newPatient := PatientInfo{PatientCode: "CC-1001", Name: "Ana María Pérez", Age: 43, Gender: "F"}
	updated, err := f.svc.Update(context.Background(), c.CaseCode, UpdateInput{
		PatientInfo: &newPatient,
		Service:     strPtr("Gastro"),
	})
	require.NoError(t, err)

	assert.Equal(t, newPatient, updated.PatientInfo, "patient_info is replaced, not merged")
	assert.Equal(t, "", updated.PatientInfo.EntityInfo.Name)
	assert.Equal(t, "Gastro", *updated.Service)
	assert.Equal(t, c.Samples, updated.Samples)
	assert.True(t, updated.UpdatedAt.After(c.UpdatedAt))
}

func TestUpdate_RejectsState(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())
	st := StateCompleted
	_, err := f.svc.Update(context.Background(), c.CaseCode, UpdateInput{State: &st})
	assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))

	got, _ := f.svc.Get(context.Background(), c.CaseCode)
	assert.Equal(t, StateInProcess, got.State)
}

func TestUpdate_ConcurrentModification(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	prev, _ := f.repo.GetByCode(context.Background(), c.CaseCode)
	// Another writer changes the case after prev was read.
	changed := prev.clone()
	changed.UpdatedAt = prev.UpdatedAt.Add(time.Second)
	f.repo.set(changed)

	next := prev.clone()
	next.Priority = PriorityPriority
	err := f.svc.commit(context.Background(), prev, next)
	assert.Equal(t, apperr.KindConcurrentModification, apperr.KindOf(err))
}

func TestDelete(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())
	require.NoError(t, f.svc.Delete(context.Background(), c.CaseCode))

	err := f.svc.Delete(context.Background(), c.CaseCode)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateResult_NormalizesMethod(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	method := []string{" A ", "", "B"}
	updated, err := f.svc.UpdateResult(context.Background(), c.CaseCode, ResultPatch{Method: &method})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, updated.Result.Method)
	assert.Equal(t, f.now.UTC(), updated.Result.UpdatedAt)
}

func TestUpdateResult_EmptyMethod(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	method := []string{"  ", ""}
	_, err := f.svc.UpdateResult(context.Background(), c.CaseCode, ResultPatch{Method: &method})
	assert.Equal(t, apperr.KindEmptyMethod, apperr.KindOf(err))
}

func TestUpdateResult_MergesFields(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	_, err := f.svc.UpdateResult(context.Background(), c.CaseCode, ResultPatch{Diagnosis: strPtr("adenocarcinoma")})
	require.NoError(t, err)
	f.advance(time.Minute)
	updated, err := f.svc.UpdateResult(context.Background(), c.CaseCode, ResultPatch{MacroResult: strPtr("fragmento de 2 cm")})
	require.NoError(t, err)

	assert.Equal(t, "adenocarcinoma", *updated.Result.Diagnosis)
	assert.Equal(t, "fragmento de 2 cm", *updated.Result.MacroResult)
}

func TestUpdateResult_LockedStates(t *testing.T) {
	for _, st := range []State{StateToDeliver, StateCompleted} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture()
			c, _ := f.svc.Create(context.Background(), sampleInput())
			stored, _ := f.repo.GetByCode(context.Background(), c.CaseCode)
			stored.State = st
			signed := f.now
			stored.SignedAt = &signed
			f.repo.set(stored)

			_, err := f.svc.UpdateResult(context.Background(), c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
			assert.Equal(t, apperr.KindCaseLocked, apperr.KindOf(err))
		})
	}
}

func TestUpdateResult_PathologistMustBeAssigned(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)

	_, err := f.svc.UpdateResult(asPathologist("P2"), c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.UpdateResult(asPathologist("P1"), c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	assert.NoError(t, err)
}

func TestSign_FullPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c, err := f.svc.Create(ctx, sampleInput())
	require.NoError(t, err)
	require.Equal(t, "2025-00001", c.CaseCode)

	_, err = f.svc.UpdateResult(ctx, c.CaseCode, ResultPatch{Diagnosis: strPtr("adenocarcinoma")})
	require.NoError(t, err)
	_, err = f.svc.AssignPathologist(ctx, c.CaseCode, Pathologist{ID: "P1", Name: "Dra. X"})
	require.NoError(t, err)

	f.advance(time.Hour)
	signed, err := f.svc.Sign(asPathologist("P1"), c.CaseCode, SignPatch{ResultPatch: ResultPatch{MacroResult: strPtr("…")}})
	require.NoError(t, err)

	assert.Equal(t, StateToDeliver, signed.State)
	require.NotNil(t, signed.SignedAt)
	assert.Equal(t, "adenocarcinoma", *signed.Result.Diagnosis)
	assert.Equal(t, "…", *signed.Result.MacroResult)
	assert.Equal(t, *signed.SignedAt, signed.Result.UpdatedAt)

	stored, _ := f.svc.Get(ctx, c.CaseCode)
	assert.Equal(t, StateToDeliver, stored.State)
}

func TestSign_DiagnosisDictionaries(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)

	signed, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{
		ResultPatch:    ResultPatch{Diagnosis: strPtr("carcinoma")},
		CIE10Diagnosis: &Diagnosis{Code: "C18.9", Name: "Tumor maligno del colon"},
		CIEODiagnosis:  &Diagnosis{Code: "8140/3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "C18.9", signed.Result.CIE10Diagnosis.Code)
	assert.Nil(t, signed.Result.CIEODiagnosis, "a dictionary entry without name stays null")
}

func TestSign_RefusedWithoutPathologist(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	_, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.Error(t, err)
	assert.Contains(t, []apperr.Kind{apperr.KindIllegalTransition, apperr.KindBadParameter}, apperr.KindOf(err))

	v, err := f.svc.ValidateSign(context.Background(), c.CaseCode)
	require.NoError(t, err)
	assert.False(t, v.CanSign)
	assert.Equal(t, StateInProcess, v.CurrentState)

	stored, _ := f.svc.Get(context.Background(), c.CaseCode)
	assert.Equal(t, StateInProcess, stored.State)
	assert.Nil(t, stored.Result, "a refused sign leaves no partial result")
}

func TestSign_FromInProcessNeedsResultContent(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)

	_, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err))
}

func TestSign_IdempotentWhenAlreadySigned(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	signed, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.NoError(t, err)

	f.advance(time.Hour)
	again, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{})
	require.NoError(t, err)
	assert.Equal(t, signed.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, signed.SignedAt, again.SignedAt)

	_, err = f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("y")}})
	assert.Equal(t, apperr.KindCaseLocked, apperr.KindOf(err))
}

func TestSign_CompletedIsIllegal(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	_, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.NoError(t, err)
	_, err = f.svc.Deliver(context.Background(), c.CaseCode, "Paciente")
	require.NoError(t, err)

	_, err = f.svc.Sign(context.Background(), c.CaseCode, SignPatch{})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err))

	v, err := f.svc.ValidateSign(context.Background(), c.CaseCode)
	require.NoError(t, err)
	assert.False(t, v.CanSign)
	assert.Equal(t, StateCompleted, v.CurrentState)
}

func TestValidateSign_CanSign(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)

	v, err := f.svc.ValidateSign(asPathologist("P1"), c.CaseCode)
	require.NoError(t, err)
	assert.False(t, v.CanSign, "no result content yet")
	assert.Equal(t, "result has no method, macro, micro or diagnosis", v.Message)

	_, err = f.svc.Sign(asPathologist("P1"), c.CaseCode, SignPatch{})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err), "sign agrees with validate")

	_, err = f.svc.UpdateResult(asPathologist("P1"), c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	require.NoError(t, err)

	v, err = f.svc.ValidateSign(asPathologist("P1"), c.CaseCode)
	require.NoError(t, err)
	assert.True(t, v.CanSign)

	v, err = f.svc.ValidateSign(asPathologist("P9"), c.CaseCode)
	require.NoError(t, err)
	assert.False(t, v.CanSign)

	signed, err := f.svc.Sign(asPathologist("P1"), c.CaseCode, SignPatch{})
	require.NoError(t, err)
	assert.Equal(t, StateToDeliver, signed.State)
}

func TestDeliver_ComputesBusinessDays(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	_, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.NoError(t, err)

	// Monday to the following Monday.
	f.advance(7 * 24 * time.Hour)
	_, err = f.svc.Deliver(context.Background(), c.CaseCode, "  ")
	assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))

	done, err := f.svc.Deliver(context.Background(), c.CaseCode, "Paciente")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, done.State)
	require.NotNil(t, done.DeliveredAt)
	assert.Equal(t, "Paciente", *done.DeliveredTo)
	assert.Equal(t, 5, *done.BusinessDays)
	assert.NotNil(t, done.SignedAt)
}

func TestTransition_RulesAndIdempotence(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c, _ := f.svc.Create(ctx, sampleInput())

	_, err := f.svc.Transition(ctx, c.CaseCode, StateCompleted, TransitionInput{DeliveredTo: "x"})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err))

	_, err = f.svc.Transition(ctx, c.CaseCode, StateToDeliver, TransitionInput{})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err), "Por entregar only through signing")

	_, err = f.svc.Transition(ctx, c.CaseCode, StateToSign, TransitionInput{})
	assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err), "guard: pathologist and result")

	_, err = f.svc.Transition(ctx, c.CaseCode, "Archivado", TransitionInput{})
	assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))

	same, err := f.svc.Transition(ctx, c.CaseCode, StateInProcess, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, c.UpdatedAt, same.UpdatedAt, "no-op transition leaves updated_at unchanged")

	_, _ = f.svc.AssignPathologist(ctx, c.CaseCode, Pathologist{ID: "P1", Name: "Dra. X"})
	_, _ = f.svc.UpdateResult(ctx, c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	f.advance(time.Minute)
	moved, err := f.svc.Transition(ctx, c.CaseCode, StateToSign, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, StateToSign, moved.State)
	assert.Nil(t, moved.SignedAt)
}

func TestTransition_PathologistCannotDeliver(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	_, err := f.svc.Sign(asPathologist("P1"), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.NoError(t, err)

	for _, code := range []string{"P9", "P1"} {
		_, err = f.svc.Transition(asPathologist(code), c.CaseCode, StateCompleted, TransitionInput{DeliveredTo: "Paciente"})
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err), "pathologist %s", code)
	}

	got, err := f.svc.Get(context.Background(), c.CaseCode)
	require.NoError(t, err)
	assert.Equal(t, StateToDeliver, got.State)
}

func TestTransition_PathologistMovesOnlyOwnCase(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	_, err := f.svc.UpdateResult(asPathologist("P1"), c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	require.NoError(t, err)

	_, err = f.svc.Transition(asPathologist("P9"), c.CaseCode, StateToSign, TransitionInput{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	moved, err := f.svc.Transition(asPathologist("P1"), c.CaseCode, StateToSign, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, StateToSign, moved.State)
}

func TestAssignPathologist_LockedAfterSigning(t *testing.T) {
	f := newFixture()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}
	c, _ := f.svc.Create(context.Background(), in)
	_, err := f.svc.Sign(context.Background(), c.CaseCode, SignPatch{ResultPatch: ResultPatch{Diagnosis: strPtr("x")}})
	require.NoError(t, err)

	_, err = f.svc.AssignPathologist(context.Background(), c.CaseCode, Pathologist{ID: "P2", Name: "Dr. Y"})
	assert.Equal(t, apperr.KindCaseLocked, apperr.KindOf(err))
}

func TestAddNote(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())

	_, err := f.svc.AddNote(context.Background(), c.CaseCode, "  ")
	assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))

	updated, err := f.svc.AddNote(context.Background(), c.CaseCode, "muestra recibida")
	require.NoError(t, err)
	require.Len(t, updated.AdditionalNotes, 1)
	assert.Equal(t, "muestra recibida", updated.AdditionalNotes[0].Note)
}

func TestChangePatientCode(t *testing.T) {
	f := newFixture()
	_, _ = f.svc.Create(context.Background(), sampleInput())
	_, _ = f.svc.Create(context.Background(), sampleInput())
	other := sampleInput()
	other.PatientInfo.PatientCode = "CC-2002"
	_, _ = f.svc.Create(context.Background(), other)

	n, err := f.svc.ChangePatientCode(context.Background(), "CC-1001", "TI-1001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, total, err := f.svc.Search(context.Background(), SearchFilter{PatientCode: "TI-1001"}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, err = f.svc.ChangePatientCode(context.Background(), "", "x")
	assert.Equal(t, apperr.KindBadParameter, apperr.KindOf(err))
}

func TestBilling_OnlyCompleted(t *testing.T) {
	f := newFixture()
	c, _ := f.svc.Create(context.Background(), sampleInput())
	billing := auth.WithIdentity(context.Background(), &auth.Identity{UserID: "b1", Role: auth.RoleBilling})

	_, err := f.svc.Get(billing, c.CaseCode)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	items, total, err := f.svc.Search(billing, SearchFilter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, items)

	_, _, err = f.svc.Search(billing, SearchFilter{State: StateInProcess}, 20, 0)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

// Every state reachable through the service keeps signed_at and delivered_at
// consistent with the state.
func TestInvariant_SignedAtMatchesState(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := sampleInput()
	in.AssignedPathologist = &Pathologist{ID: "P1", Name: "Dra. X"}

	check := func(c *Case) {
		t.Helper()
		assert.Equal(t, c.State.Signed(), c.SignedAt != nil, "state %s", c.State)
		assert.Equal(t, c.State == StateCompleted, c.DeliveredAt != nil, "state %s", c.State)
	}

	c, _ := f.svc.Create(ctx, in)
	check(c)
	c, _ = f.svc.UpdateResult(ctx, c.CaseCode, ResultPatch{Diagnosis: strPtr("x")})
	check(c)
	c, _ = f.svc.Transition(ctx, c.CaseCode, StateToSign, TransitionInput{})
	check(c)
	c, _ = f.svc.Sign(ctx, c.CaseCode, SignPatch{})
	check(c)
	c, _ = f.svc.Deliver(ctx, c.CaseCode, "Paciente")
	check(c)
}
