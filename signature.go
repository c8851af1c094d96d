package gitbind

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-playground/validator/v10"
)

// signatureValidate checks signature components before they reach the
// native signature. Initialized in init() with the git identity rule.
var signatureValidate *validator.Validate

func init() {
	signatureValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = signatureValidate.RegisterValidation("gitident", validateIdent)
}

// validateIdent rejects characters that would corrupt the "Name <email>"
// encoding of a signature in commit and tag objects.
func validateIdent(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "<>\n\x00")
}

type signatureInput struct {
	Name   string `validate:"required,gitident"`
	Email  string `validate:"required,gitident"`
	Offset int    `validate:"min=-1439,max=1439"` // less than a day either way
}

// Signature is an immutable identity and timestamp attached to commits and
// tags.
//
// A nil *Signature (as returned by a failed NewSignature) and the zero
// Signature value are invalid; Valid reports which case applies. The native
// signature is held by value, so copying a Signature copies it; Clone is
// provided for symmetry with Index.
//
// Signatures hold no resources that need releasing, so they take no owner.
type Signature struct {
	native object.Signature
	valid  bool
}

// NewSignature creates a signature from its components. name and email are
// trimmed of surrounding whitespace and must be non-empty and free of '<',
// '>', NUL and newline. offsetMinutes is the UTC offset of when, in minutes.
// when is truncated to whole seconds.
//
// Invalid input returns a nil Signature and an error wrapping
// ErrInvalidSignature.
func NewSignature(name, email string, when time.Time, offsetMinutes int) (*Signature, error) {
	in := signatureInput{
		Name:   strings.TrimSpace(name),
		Email:  strings.TrimSpace(email),
		Offset: offsetMinutes,
	}
	if err := signatureValidate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	loc := time.FixedZone("", offsetMinutes*60)
	return &Signature{native: object.Signature{
		Name:  in.Name,
		Email: in.Email,
		When:  time.Unix(when.Unix(), 0).In(loc),
	}, valid: true}, nil
}

// AdoptSignature wraps an existing native signature without validating it.
// The wrapper keeps its own copy, so later changes to native do not affect
// it. A nil native yields a nil Signature.
func AdoptSignature(native *object.Signature) *Signature {
	if native == nil {
		return nil
	}
	return &Signature{native: *native, valid: true}
}

// ParseSignature parses the encoded form used in commit headers, e.g.
// "Jane Doe <jane@example.com> 1700000000 +0130".
func ParseSignature(s string) (*Signature, error) {
	var native object.Signature
	native.Decode([]byte(s))
	if native.When.IsZero() {
		return nil, fmt.Errorf("%w: missing or malformed timestamp in %q", ErrInvalidSignature, s)
	}
	_, offset := native.When.Zone()
	return NewSignature(native.Name, native.Email, native.When, offset/60)
}

// Valid reports whether s wraps a native signature.
func (s *Signature) Valid() bool {
	return s != nil && s.valid
}

// Name returns the identity name.
func (s *Signature) Name() string {
	if !s.Valid() {
		return ""
	}
	return s.native.Name
}

// Email returns the identity email.
func (s *Signature) Email() string {
	if !s.Valid() {
		return ""
	}
	return s.native.Email
}

// When returns the timestamp in the signature's fixed UTC offset.
func (s *Signature) When() time.Time {
	if !s.Valid() {
		return time.Time{}
	}
	return s.native.When
}

// Unix returns the timestamp as seconds since the Unix epoch.
func (s *Signature) Unix() int64 {
	return s.When().Unix()
}

// Offset returns the UTC offset in minutes.
func (s *Signature) Offset() int {
	if !s.Valid() {
		return 0
	}
	_, offset := s.native.When.Zone()
	return offset / 60
}

// Clone returns a deep copy of s.
func (s *Signature) Clone() *Signature {
	if !s.Valid() {
		return nil
	}
	cp := *s
	return &cp
}

// Native returns a copy of the wrapped go-git signature, or nil if s is
// invalid. Changing the copy does not affect s.
func (s *Signature) Native() *object.Signature {
	if !s.Valid() {
		return nil
	}
	cp := s.native
	return &cp
}

// Equal reports whether s and other carry the same name, email, instant and
// offset.
func (s *Signature) Equal(other *Signature) bool {
	if !s.Valid() || !other.Valid() {
		return s.Valid() == other.Valid()
	}
	return s.Name() == other.Name() &&
		s.Email() == other.Email() &&
		s.When().Equal(other.When()) &&
		s.Offset() == other.Offset()
}

// String returns "Name <email>".
func (s *Signature) String() string {
	if !s.Valid() {
		return ""
	}
	return s.native.String()
}

// Encode writes the signature in commit header form:
// "Name <email> <unix seconds> <+hhmm>".
func (s *Signature) Encode(w io.Writer) error {
	if !s.Valid() {
		return ErrInvalidSignature
	}
	return s.native.Encode(w)
}
