// Package auth implements persona-based password authentication.
//
// One password input is classified against three mutually exclusive
// personas: master (real contents), panic (duress), decoy (cover). Each
// persona has a salted verifier persisted at setup; the plaintext
// password is never stored and never derivable from the verifier.
//
// Classification always derives against all three verifiers and compares
// in constant time, whatever the outcome. This is a timing side-channel
// requirement: an observer must not learn from latency whether a
// candidate matched early, late, or not at all.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode"

	"github.com/arenvik/deadbolt/internal/crypto"
	"github.com/arenvik/deadbolt/internal/escalate"
	"github.com/arenvik/deadbolt/internal/storage"
)

// Persona identifies which password class a candidate matched.
type Persona int

const (
	PersonaInvalid Persona = iota
	PersonaMaster
	PersonaPanic
	PersonaDecoy
)

// String returns the lowercase persona name.
func (p Persona) String() string {
	switch p {
	case PersonaMaster:
		return "master"
	case PersonaPanic:
		return "panic"
	case PersonaDecoy:
		return "decoy"
	}
	return "invalid"
}

const minPasswordLength = 8

var (
	// ErrSetup rejects an invalid persona configuration.
	ErrSetup = errors.New("setup failed")

	ErrNotInitialized     = errors.New("vault not initialized")
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrWrongPassword      = errors.New("wrong password")
)

// Verifier tests a password for one persona without storing it. The
// verifier salt and key salt are independent so the stored digest never
// doubles as the encryption key.
type Verifier struct {
	VerifierSalt []byte `json:"verifier_salt"`
	KeySalt      []byte `json:"key_salt"`
	Digest       []byte `json:"digest"`
	Iterations   int    `json:"iterations"`
}

// Bundle is the persisted verifier set: exactly one verifier per persona.
type Bundle struct {
	Version int      `json:"version"`
	Master  Verifier `json:"master"`
	Panic   Verifier `json:"panic"`
	Decoy   Verifier `json:"decoy"`
}

// VaultKey is session-scoped symmetric key material bound to a persona.
// It is never persisted; call Zero when the session ends.
type VaultKey struct {
	key     []byte
	persona Persona
}

// Bytes exposes the raw key material for constructing an encryptor.
func (k *VaultKey) Bytes() []byte {
	return k.key
}

// Persona returns the persona this key is bound to.
func (k *VaultKey) Persona() Persona {
	return k.persona
}

// Zero clears the key material.
func (k *VaultKey) Zero() {
	crypto.ClearBytes(k.key)
}

// Authority performs persona setup and classification.
type Authority struct {
	catalog     *storage.Catalog
	escalator   *escalate.Escalator
	maxAttempts uint32

	// derive computes one verifier digest. Indirect so tests can count
	// derivations and catch an early-exit regression in Classify.
	derive func(v Verifier, candidate []byte) []byte
}

// New creates an Authority. The escalator receives the threshold-breach
// trigger when too many invalid classifications accumulate.
func New(catalog *storage.Catalog, escalator *escalate.Escalator, maxAttempts int) *Authority {
	return &Authority{
		catalog:     catalog,
		escalator:   escalator,
		maxAttempts: uint32(maxAttempts),
		derive:      deriveDigest,
	}
}

func deriveDigest(v Verifier, candidate []byte) []byte {
	kdf := &crypto.KDF{Salt: v.VerifierSalt, Iterations: v.Iterations}
	return kdf.DeriveKey(candidate)
}

// Initialize derives and persists the three persona verifiers. It
// rejects duplicate passwords, weak passwords, and the (astronomically
// unlikely) case of a cross-persona verifier collision.
func (a *Authority) Initialize(master, panicPw, decoy []byte) error {
	if _, err := a.catalog.GetVerifierBundle(); err == nil {
		return ErrAlreadyInitialized
	}

	passwords := [][]byte{master, panicPw, decoy}
	names := []string{"master", "panic", "decoy"}

	for i, pw := range passwords {
		if err := checkStrength(pw); err != nil {
			return fmt.Errorf("%w: %s password: %w", ErrSetup, names[i], err)
		}
	}
	for i := 0; i < len(passwords); i++ {
		for j := i + 1; j < len(passwords); j++ {
			if crypto.ConstantTimeCompare(passwords[i], passwords[j]) {
				return fmt.Errorf("%w: %s and %s passwords must differ", ErrSetup, names[i], names[j])
			}
		}
	}

	verifiers := make([]Verifier, len(passwords))
	for i, pw := range passwords {
		v, err := newVerifier(pw)
		if err != nil {
			return err
		}
		verifiers[i] = v
	}

	// Pairwise non-collision: no password may validate a foreign
	// persona's verifier.
	for i, pw := range passwords {
		for j, v := range verifiers {
			if i == j {
				continue
			}
			kdf := &crypto.KDF{Salt: v.VerifierSalt, Iterations: v.Iterations}
			digest := kdf.DeriveKey(pw)
			collides := crypto.ConstantTimeCompare(digest, v.Digest)
			crypto.ClearBytes(digest)
			if collides {
				return fmt.Errorf("%w: verifier collision between %s and %s", ErrSetup, names[i], names[j])
			}
		}
	}

	bundle := Bundle{
		Version: 1,
		Master:  verifiers[0],
		Panic:   verifiers[1],
		Decoy:   verifiers[2],
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal verifier bundle: %w", err)
	}

	if err := a.catalog.SetVerifierBundle(data); err != nil {
		return fmt.Errorf("failed to persist verifiers: %w", err)
	}
	return a.catalog.SetFailedAttempts(0)
}

func newVerifier(password []byte) (Verifier, error) {
	verifierKDF, err := crypto.NewKDF()
	if err != nil {
		return Verifier{}, err
	}
	keyKDF, err := crypto.NewKDF()
	if err != nil {
		return Verifier{}, err
	}

	return Verifier{
		VerifierSalt: verifierKDF.Salt,
		KeySalt:      keyKDF.Salt,
		Digest:       verifierKDF.DeriveKey(password),
		Iterations:   verifierKDF.Iterations,
	}, nil
}

func (a *Authority) bundle() (*Bundle, error) {
	data, err := a.catalog.GetVerifierBundle()
	if err != nil {
		return nil, ErrNotInitialized
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("corrupt verifier bundle: %w", err)
	}
	return &bundle, nil
}

// Classify tests a candidate against all three personas. All three
// derivations and all three comparisons run on every call, match or not;
// the failed-attempt counter is the only state this mutates.
func (a *Authority) Classify(candidate []byte) (Persona, error) {
	bundle, err := a.bundle()
	if err != nil {
		return PersonaInvalid, err
	}

	verifiers := []Verifier{bundle.Master, bundle.Panic, bundle.Decoy}
	personas := []Persona{PersonaMaster, PersonaPanic, PersonaDecoy}

	digests := make([][]byte, len(verifiers))
	for i, v := range verifiers {
		digests[i] = a.derive(v, candidate)
	}
	defer func() {
		for _, d := range digests {
			crypto.ClearBytes(d)
		}
	}()

	matches := 0
	matched := PersonaInvalid
	for i := range verifiers {
		if crypto.ConstantTimeCompare(digests[i], verifiers[i].Digest) {
			matches++
			matched = personas[i]
		}
	}

	if matches != 1 {
		if matches > 1 {
			// Should be impossible after setup-time collision checks.
			a.escalator.Report(escalate.ErrorEvent{
				Category:    escalate.CategorySecurity,
				Severity:    escalate.SeverityHigh,
				Recoverable: false,
				Context:     "ambiguous persona classification",
			})
		}
		if err := a.recordFailure(); err != nil {
			return PersonaInvalid, err
		}
		return PersonaInvalid, nil
	}

	// A confirmed classification resets attempt progress.
	if err := a.catalog.SetFailedAttempts(0); err != nil {
		return PersonaInvalid, err
	}
	return matched, nil
}

func (a *Authority) recordFailure() error {
	attempts, err := a.catalog.FailedAttempts()
	if err != nil {
		return err
	}
	attempts++
	if err := a.catalog.SetFailedAttempts(attempts); err != nil {
		return err
	}

	if attempts >= a.maxAttempts {
		a.escalator.TriggerPanic("failed password attempt limit reached", escalate.SourceThresholdBreach)
	}
	return nil
}

// FailedAttempts returns the persisted invalid-classification count.
func (a *Authority) FailedAttempts() (uint32, error) {
	return a.catalog.FailedAttempts()
}

// DeriveSessionKey rederives the symmetric key bound to the confirmed
// persona. The result is never cached; each session derives its own.
func (a *Authority) DeriveSessionKey(candidate []byte, persona Persona) (*VaultKey, error) {
	bundle, err := a.bundle()
	if err != nil {
		return nil, err
	}

	var v Verifier
	switch persona {
	case PersonaMaster:
		v = bundle.Master
	case PersonaPanic:
		v = bundle.Panic
	case PersonaDecoy:
		v = bundle.Decoy
	default:
		return nil, fmt.Errorf("cannot derive a key for persona %q", persona)
	}

	verifierKDF := &crypto.KDF{Salt: v.VerifierSalt, Iterations: v.Iterations}
	digest := verifierKDF.DeriveKey(candidate)
	ok := crypto.ConstantTimeCompare(digest, v.Digest)
	crypto.ClearBytes(digest)
	if !ok {
		return nil, ErrWrongPassword
	}

	keyKDF := &crypto.KDF{Salt: v.KeySalt, Iterations: v.Iterations}
	return &VaultKey{
		key:     keyKDF.DeriveKey(candidate),
		persona: persona,
	}, nil
}

// checkStrength enforces the minimum password policy: at least 8
// characters drawing on at least 3 of the 4 character classes.
func checkStrength(password []byte) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("must be at least %d characters", minPasswordLength)
	}

	var lower, upper, digit, symbol bool
	for _, r := range string(password) {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return errors.New("must mix at least 3 of: lowercase, uppercase, digits, symbols")
	}
	return nil
}
