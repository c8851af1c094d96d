package gitbind

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignature(t *testing.T) {
	when := time.Unix(1700000000, 123456789)
	sig, err := NewSignature("  Jane Doe ", "jane@example.com\t", when, 90)
	require.NoError(t, err)
	require.True(t, sig.Valid())

	assert.Equal(t, "Jane Doe", sig.Name())
	assert.Equal(t, "jane@example.com", sig.Email())
	assert.Equal(t, int64(1700000000), sig.Unix())
	assert.Equal(t, 90, sig.Offset())
	assert.Equal(t, 0, sig.When().Nanosecond())
	_, offset := sig.When().Zone()
	assert.Equal(t, 90*60, offset)
	assert.Equal(t, "Jane Doe <jane@example.com>", sig.String())
}

func TestNewSignatureInvalid(t *testing.T) {
	when := time.Unix(1700000000, 0)
	tests := []struct {
		name   string
		sName  string
		email  string
		offset int
	}{
		{"empty name", "", "a@b.c", 0},
		{"blank name", "   ", "a@b.c", 0},
		{"empty email", "Jane", "", 0},
		{"angle bracket in name", "Jane <x>", "a@b.c", 0},
		{"angle bracket in email", "Jane", "a>b", 0},
		{"newline in name", "Ja\nne", "a@b.c", 0},
		{"offset too large", "Jane", "a@b.c", 24 * 60},
		{"offset too small", "Jane", "a@b.c", -24 * 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := NewSignature(tt.sName, tt.email, when, tt.offset)
			require.ErrorIs(t, err, ErrInvalidSignature)
			assert.Equal(t, CodeInvalid, Code(err))
			assert.Nil(t, sig)
			assert.False(t, sig.Valid())
			assert.Empty(t, sig.Name())
			assert.Empty(t, sig.String())
		})
	}
}

func TestSignatureOffsetLimits(t *testing.T) {
	when := time.Unix(1700000000, 0)
	for _, offset := range []int{-1439, -300, 0, 330, 1439} {
		sig, err := NewSignature("Jane", "a@b.c", when, offset)
		require.NoError(t, err)
		assert.Equal(t, offset, sig.Offset())
		assert.True(t, when.Equal(sig.When()))
	}
}

func TestSignatureEncodeAndParse(t *testing.T) {
	sig, err := NewSignature("Jane Doe", "jane@example.com", time.Unix(1700000000, 0), 90)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sig.Encode(&buf))
	assert.Equal(t, "Jane Doe <jane@example.com> 1700000000 +0130", buf.String())

	parsed, err := ParseSignature(buf.String())
	require.NoError(t, err)
	assert.True(t, sig.Equal(parsed))

	negative, err := ParseSignature("Bob <bob@example.com> 1700000000 -0800")
	require.NoError(t, err)
	assert.Equal(t, -480, negative.Offset())

	for _, in := range []string{
		"nonsense",
		"Jane <a@b.c>",
		"Jane <a@b.c> ",
		"Jane <a@b.c> yesterday +0000",
	} {
		sig, err := ParseSignature(in)
		require.ErrorIs(t, err, ErrInvalidSignature, in)
		assert.Nil(t, sig, in)
	}
}

func TestSignatureCopiesAreIndependent(t *testing.T) {
	native := &object.Signature{Name: "Jane", Email: "jane@example.com", When: time.Unix(1700000000, 0).UTC()}
	sig := AdoptSignature(native)
	require.True(t, sig.Valid())

	native.Name = "Mallory"
	assert.Equal(t, "Jane", sig.Name())

	out := sig.Native()
	out.Email = "changed@example.com"
	assert.Equal(t, "jane@example.com", sig.Email())

	clone := sig.Clone()
	assert.True(t, sig.Equal(clone))
	assert.NotSame(t, sig, clone)

	copied := *sig
	assert.True(t, sig.Equal(&copied))
	copied.native.Name = "Mallory"
	assert.Equal(t, "Jane", sig.Name(), "value copies do not alias")

	assert.Nil(t, AdoptSignature(nil))
}

func TestSignatureEqual(t *testing.T) {
	when := time.Unix(1700000000, 0)
	a, err := NewSignature("Jane", "a@b.c", when, 60)
	require.NoError(t, err)
	b, err := NewSignature("Jane", "a@b.c", when, 0)
	require.NoError(t, err)

	assert.False(t, a.Equal(b), "same instant, different offset")
	assert.False(t, a.Equal(nil))
	var none *Signature
	assert.True(t, none.Equal(&Signature{}))
}

func TestInvalidSignatureAccessors(t *testing.T) {
	var zero Signature
	assert.False(t, zero.Valid())
	assert.Nil(t, zero.Clone())
	assert.Nil(t, zero.Native())
	assert.True(t, zero.When().IsZero())
	assert.Equal(t, 0, zero.Offset())
	assert.ErrorIs(t, zero.Encode(&bytes.Buffer{}), ErrInvalidSignature)
}
