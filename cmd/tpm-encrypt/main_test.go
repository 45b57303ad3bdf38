package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/tpm-encrypt/config"
	"github.com/quantumauth-io/tpm-encrypt/errs"
)

type call struct {
	op   string
	args []string
}

type fakeService struct {
	calls  []call
	err    error
	closed bool
}

func (f *fakeService) record(op string, args ...string) error {
	f.calls = append(f.calls, call{op: op, args: args})
	return f.err
}

func (f *fakeService) EncryptFile(_ context.Context, src, dst, ref string) error {
	return f.record("encrypt", src, dst, ref)
}

func (f *fakeService) DecryptFile(_ context.Context, src, dst, ref string) error {
	return f.record("decrypt", src, dst, ref)
}

func (f *fakeService) DeleteKey(_ context.Context, ref string) error {
	return f.record("delete", ref)
}

func (f *fakeService) WipeAll(context.Context) error { return f.record("wipe") }

func (f *fakeService) Close() error {
	f.closed = true
	return nil
}

func run(t *testing.T, svc *fakeService, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")

	root, a := newRootCmd(func(context.Context, *config.Settings) (service, error) { return svc, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", t.TempDir()}, args...))

	err := root.Execute()
	a.teardown()
	return out.String(), err
}

func TestEncryptDecryptCommands(t *testing.T) {
	svc := &fakeService{}

	out, err := run(t, svc, "", "encrypt", "plain.txt", "plain.enc", "--ref", "alpha")
	require.NoError(t, err)
	assert.Contains(t, out, "encrypted plain.txt -> plain.enc")

	_, err = run(t, svc, "", "decrypt", "plain.enc", "plain.out", "-r", "alpha")
	require.NoError(t, err)

	assert.Equal(t, []call{
		{"encrypt", []string{"plain.txt", "plain.enc", "alpha"}},
		{"decrypt", []string{"plain.enc", "plain.out", "alpha"}},
	}, svc.calls)
	assert.True(t, svc.closed)
}

func TestEncryptRequiresRef(t *testing.T) {
	svc := &fakeService{}
	_, err := run(t, svc, "", "encrypt", "a", "b")
	assert.Error(t, err)
	assert.Empty(t, svc.calls)
}

func TestWipeRequiresConfirmation(t *testing.T) {
	svc := &fakeService{}
	_, err := run(t, svc, "", "wipe")
	assert.Error(t, err)
	assert.Empty(t, svc.calls)

	_, err = run(t, svc, "", "wipe", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "wipe", svc.calls[0].op)
}

func TestCommandErrorPropagates(t *testing.T) {
	svc := &fakeService{err: errs.ErrUnsealFailed}
	_, err := run(t, svc, "", "delete", "--ref", "alpha")
	assert.ErrorIs(t, err, errs.ErrUnsealFailed)
	assert.True(t, svc.closed)
}

func TestMenu(t *testing.T) {
	svc := &fakeService{}
	input := strings.Join([]string{
		"1", "in.txt", "in.enc", "alpha",
		"2", "in.enc", "in.out", "alpha",
		"9",
		"3", "alpha",
		"4", "no",
		"4", "yes",
		"5",
	}, "\n") + "\n"

	out, err := run(t, svc, input, "menu")
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid choice")
	assert.Contains(t, out, "Cancelled.")
	assert.Contains(t, out, "Exiting...")

	ops := make([]string, 0, len(svc.calls))
	for _, c := range svc.calls {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{"encrypt", "decrypt", "delete", "wipe"}, ops)
}

func TestMenu_ContinuesAfterFailure(t *testing.T) {
	svc := &fakeService{err: errs.ErrPaddingInvalid}
	out, err := runMenuDirect(svc, "2\na\nb\nalpha\n5\n")
	require.NoError(t, err)
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "Exiting...")
}

func TestMenu_StopsOnFatal(t *testing.T) {
	svc := &fakeService{err: errs.ErrEntropyUnavailable}
	_, err := runMenuDirect(svc, "1\na\nb\nalpha\n5\n")
	assert.True(t, errs.IsFatal(err))
}

func TestMenu_EndOfInput(t *testing.T) {
	_, err := runMenuDirect(&fakeService{}, "")
	assert.NoError(t, err)
}

func TestSetupFailure(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	root, a := newRootCmd(func(context.Context, *config.Settings) (service, error) {
		return nil, errors.New("no tpm")
	})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", t.TempDir(), "wipe", "--yes"})

	assert.EqualError(t, root.Execute(), "no tpm")
	a.teardown()
}

func runMenuDirect(svc service, input string) (string, error) {
	var out bytes.Buffer
	err := runMenu(context.Background(), svc, strings.NewReader(input), &out)
	return out.String(), err
}
