package auth

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenvik/deadbolt/internal/config"
	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

var (
	masterPw = []byte("Master1!Aa")
	panicPw  = []byte("Panic1!Aa")
	decoyPw  = []byte("Decoy1!Aa")
)

type panicRecorder struct {
	fired  int
	reason string
	source escalate.PanicSource
}

func (r *panicRecorder) fire(reason string, source escalate.PanicSource) {
	r.fired++
	r.reason = reason
	r.source = source
}

func newTestAuthority(t *testing.T, maxAttempts int, rec *panicRecorder) *Authority {
	t.Helper()

	catalog, err := storage.OpenCatalog(filepath.Join(t.TempDir(), "deadbolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	require.NoError(t, catalog.Initialize())

	var onPanic escalate.PanicFunc
	if rec != nil {
		onPanic = rec.fire
	}
	escalator := escalate.New(config.Default().Escalation, onPanic)

	return New(catalog, escalator, maxAttempts)
}

func initialized(t *testing.T, maxAttempts int, rec *panicRecorder) *Authority {
	t.Helper()
	a := newTestAuthority(t, maxAttempts, rec)
	require.NoError(t, a.Initialize(masterPw, panicPw, decoyPw))
	return a
}

func TestClassifyEachPersona(t *testing.T) {
	a := initialized(t, 10, nil)

	for _, tc := range []struct {
		candidate []byte
		want      Persona
	}{
		{masterPw, PersonaMaster},
		{panicPw, PersonaPanic},
		{decoyPw, PersonaDecoy},
		{[]byte("NotAnyPersona1!"), PersonaInvalid},
	} {
		got, err := a.Classify(tc.candidate)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "candidate %q", tc.candidate)
	}
}

func TestClassifyDerivesAllVerifiers(t *testing.T) {
	a := initialized(t, 10, nil)

	derivations := 0
	inner := a.derive
	a.derive = func(v Verifier, candidate []byte) []byte {
		derivations++
		return inner(v, candidate)
	}

	// Every candidate costs exactly three derivations, whether it matches
	// the first verifier, the last, or none. A match must never shortcut
	// the remaining derivations.
	for _, candidate := range [][]byte{masterPw, panicPw, decoyPw, []byte("NotAnyPersona1!")} {
		derivations = 0
		_, err := a.Classify(candidate)
		require.NoError(t, err)
		assert.Equal(t, 3, derivations, "candidate %q", candidate)
	}
}

func TestClassifyBeforeInitialize(t *testing.T) {
	a := newTestAuthority(t, 10, nil)

	_, err := a.Classify(masterPw)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeRejectsDuplicatePasswords(t *testing.T) {
	a := newTestAuthority(t, 10, nil)

	err := a.Initialize(masterPw, masterPw, decoyPw)
	assert.ErrorIs(t, err, ErrSetup)

	err = a.Initialize(masterPw, panicPw, panicPw)
	assert.ErrorIs(t, err, ErrSetup)
}

func TestInitializeRejectsWeakPasswords(t *testing.T) {
	a := newTestAuthority(t, 10, nil)

	// Too short.
	err := a.Initialize([]byte("Sh0rt!"), panicPw, decoyPw)
	assert.ErrorIs(t, err, ErrSetup)

	// Long enough but only two character classes.
	err = a.Initialize(masterPw, []byte("lowercase1"), decoyPw)
	assert.ErrorIs(t, err, ErrSetup)
}

func TestInitializeTwice(t *testing.T) {
	a := initialized(t, 10, nil)

	err := a.Initialize(masterPw, panicPw, decoyPw)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestFailedAttemptThresholdTriggersPanic(t *testing.T) {
	rec := &panicRecorder{}
	a := initialized(t, 2, rec)

	_, err := a.Classify([]byte("WrongGuess1!"))
	require.NoError(t, err)
	assert.Zero(t, rec.fired, "panic fired below the attempt limit")

	_, err = a.Classify([]byte("WrongGuess2!"))
	require.NoError(t, err)
	require.Equal(t, 1, rec.fired)
	assert.Equal(t, escalate.SourceThresholdBreach, rec.source)
}

func TestFailedAttemptsPersistAcrossRestart(t *testing.T) {
	catalog, err := storage.OpenCatalog(filepath.Join(t.TempDir(), "deadbolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	require.NoError(t, catalog.Initialize())

	rec := &panicRecorder{}
	escalator := escalate.New(config.Default().Escalation, rec.fire)

	a := New(catalog, escalator, 2)
	require.NoError(t, a.Initialize(masterPw, panicPw, decoyPw))

	_, err = a.Classify([]byte("WrongGuess1!"))
	require.NoError(t, err)

	// A new Authority over the same catalog continues from the persisted
	// counter instead of starting over.
	restarted := New(catalog, escalate.New(config.Default().Escalation, rec.fire), 2)
	_, err = restarted.Classify([]byte("WrongGuess2!"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.fired)
}

func TestSuccessfulClassifyResetsAttempts(t *testing.T) {
	rec := &panicRecorder{}
	a := initialized(t, 2, rec)

	_, err := a.Classify([]byte("WrongGuess1!"))
	require.NoError(t, err)

	persona, err := a.Classify(masterPw)
	require.NoError(t, err)
	require.Equal(t, PersonaMaster, persona)

	attempts, err := a.FailedAttempts()
	require.NoError(t, err)
	assert.Zero(t, attempts)

	// After the reset, one more failure is again below the limit.
	_, err = a.Classify([]byte("WrongGuess2!"))
	require.NoError(t, err)
	assert.Zero(t, rec.fired)
}

func TestDeriveSessionKey(t *testing.T) {
	a := initialized(t, 10, nil)

	masterKey, err := a.DeriveSessionKey(masterPw, PersonaMaster)
	require.NoError(t, err)
	assert.Len(t, masterKey.Bytes(), crypto.KeySize)
	assert.Equal(t, PersonaMaster, masterKey.Persona())

	// Deterministic for the same persona and password.
	again, err := a.DeriveSessionKey(masterPw, PersonaMaster)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(masterKey.Bytes(), again.Bytes()))

	// Distinct across personas.
	decoyKey, err := a.DeriveSessionKey(decoyPw, PersonaDecoy)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(masterKey.Bytes(), decoyKey.Bytes()))
}

func TestDeriveSessionKeyWrongPassword(t *testing.T) {
	a := initialized(t, 10, nil)

	_, err := a.DeriveSessionKey(decoyPw, PersonaMaster)
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = a.DeriveSessionKey(masterPw, PersonaInvalid)
	assert.Error(t, err)
}

func TestVaultKeyZero(t *testing.T) {
	a := initialized(t, 10, nil)

	key, err := a.DeriveSessionKey(masterPw, PersonaMaster)
	require.NoError(t, err)

	key.Zero()
	assert.Equal(t, make([]byte, crypto.KeySize), key.Bytes())
}
