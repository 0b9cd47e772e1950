package consultation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateGeneratesID(t *testing.T) {
	store := NewMemoryStore()

	st := store.Create("", "")
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, "en", st.Language)
	assert.Equal(t, StageGreeting, st.Stage)
	assert.NotNil(t, st.ExtractedSymptoms)
	assert.NotNil(t, st.MessageHistory)
	assert.Equal(t, 1, store.Count())
}

func TestStoreCreateUpsert(t *testing.T) {
	store := NewMemoryStore()

	first := store.Create("kiosk-1", "hi")
	first.ConsentGiven = true
	require.NoError(t, store.Save(first))

	// Creating the same id again returns the existing session untouched.
	again := store.Create("kiosk-1", "en")
	assert.Equal(t, "kiosk-1", again.SessionID)
	assert.Equal(t, "hi", again.Language)
	assert.True(t, again.ConsentGiven)
	assert.Equal(t, 1, store.Count())
}

func TestStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	st := store.Create("s1", "en")
	st.ExtractedSymptoms = append(st.ExtractedSymptoms, "rash")
	require.NoError(t, store.Save(st))

	a, err := store.Get("s1")
	require.NoError(t, err)
	a.ExtractedSymptoms = append(a.ExtractedSymptoms, "mutated")
	a.Analysis = &Analysis{VisualDescription: "mutated"}

	b, err := store.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"rash"}, b.ExtractedSymptoms)
	assert.Nil(t, b.Analysis)
}

func TestStoreSaveRequiresSessionID(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Save(&State{}))
	assert.Error(t, store.Save(nil))
}

func TestStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	store.Create("s1", "en")

	assert.True(t, store.Delete("s1"))
	assert.False(t, store.Delete("s1"))
	assert.Equal(t, 0, store.Count())
}

func TestStoreDeleteReleasesTurnLock(t *testing.T) {
	store := NewMemoryStore()
	store.Create("s1", "en")

	unlock := store.Lock("s1")
	unlock()

	store.Delete("s1")

	m := store.(*memoryStore)
	m.lockMu.Lock()
	_, held := m.locks["s1"]
	m.lockMu.Unlock()
	assert.False(t, held, "ended sessions must not leave a mutex behind")

	// Locking after delete still works for a recreated session.
	store.Create("s1", "en")
	unlock = store.Lock("s1")
	unlock()
}

func TestStoreLockSerializesPerSession(t *testing.T) {
	store := NewMemoryStore()
	store.Create("s1", "en")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := store.Lock("s1")
			defer unlock()

			st, err := store.Get("s1")
			assert.NoError(t, err)
			st.MessageHistory = append(st.MessageHistory, Message{Role: "user", Content: "turn"})
			assert.NoError(t, store.Save(st))

			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	st, err := store.Get("s1")
	require.NoError(t, err)
	assert.Len(t, st.MessageHistory, 8, "no turn may be lost to a lost-update race")
	assert.Len(t, order, 8)
}

func TestStoreConcurrentSessionsDoNotBlock(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st := store.Create("", "en")
			unlock := store.Lock(st.SessionID)
			defer unlock()
			assert.NoError(t, store.Save(st))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, store.Count())
}

func TestCloneDeepCopies(t *testing.T) {
	st := &State{
		SessionID:         "s1",
		ExtractedSymptoms: []string{"rash"},
		Analysis: &Analysis{
			Predictions:      []ConditionPrediction{{Condition: "eczema"}},
			CriticalFindings: []string{"none"},
		},
		Plan:           &Plan{NextSteps: []string{"rest"}},
		SimilarCases:   []SimilarCase{{CaseID: "c1"}},
		MessageHistory: []Message{{Role: "user", Content: "hi"}},
	}

	cp := st.Clone()
	cp.ExtractedSymptoms[0] = "changed"
	cp.Analysis.Predictions[0].Condition = "changed"
	cp.Plan.NextSteps[0] = "changed"
	cp.SimilarCases[0].CaseID = "changed"
	cp.MessageHistory[0].Content = "changed"

	assert.Equal(t, "rash", st.ExtractedSymptoms[0])
	assert.Equal(t, "eczema", st.Analysis.Predictions[0].Condition)
	assert.Equal(t, "rest", st.Plan.NextSteps[0])
	assert.Equal(t, "c1", st.SimilarCases[0].CaseID)
	assert.Equal(t, "hi", st.MessageHistory[0].Content)
}

func TestRecentHistory(t *testing.T) {
	st := &State{}
	for i := 0; i < 5; i++ {
		st.MessageHistory = append(st.MessageHistory, Message{Content: string(rune('a' + i))})
	}

	assert.Len(t, st.RecentHistory(3), 3)
	assert.Equal(t, "e", st.RecentHistory(3)[2].Content)
	assert.Len(t, st.RecentHistory(10), 5)
	assert.Len(t, st.RecentHistory(0), 5)
}
