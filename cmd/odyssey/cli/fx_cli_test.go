package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
)

type stubRateStore struct {
	upserted []fx.Rate
	gaps     []fx.RateGap
	gapsOn   time.Time
	err      error
}

func (s *stubRateStore) UpsertRate(ctx context.Context, rate fx.Rate) error {
	if s.err != nil {
		return s.err
	}
	s.upserted = append(s.upserted, rate)
	return nil
}

func (s *stubRateStore) ListRateGaps(ctx context.Context, baseCode string, on time.Time) ([]fx.RateGap, error) {
	s.gapsOn = on
	return s.gaps, s.err
}

func yes(io.Reader, io.Writer) (bool, error) { return true, nil }

func TestImportCommandDryRunDoesNotWrite(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store, "aed")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader("account_id,date,rate\n20,2026-01-01,3.6725\n# comment\n20,2026-02-01,3.6730\n"),
		JSONOutput:   true,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Zero(t, code)
	require.Empty(t, stderr.String())
	require.Empty(t, store.upserted)

	var summary FXImportSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.Equal(t, FXImportModeDry, summary.Mode)
	require.Len(t, summary.Rows, 2)
	require.Equal(t, "2026-01-01", summary.Rows[0].EffectiveFrom)
	require.Equal(t, "3.6725", summary.Rows[0].Rate)
}

func TestImportCommandApplyUpsertsLastValuePerDay(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store, "AED")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader("rate,effective_from,account\n3.67,2026-01-01,20\n3.6725,2026-01-01,20\n"),
		Mode:         FXImportModeApply,
		Confirm:      yes,
		Stdout:       stdout,
		Stderr:       stderr,
	})
	require.Zero(t, code, stderr.String())
	require.Len(t, store.upserted, 1)
	require.Equal(t, "3.6725", store.upserted[0].RateToBase.String())
	require.Contains(t, stdout.String(), "Applied 1 rate(s).")
}

func TestImportCommandCancelled(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store, "AED")
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader("account_id,date,rate\n20,2026-01-01,3.6725\n"),
		Mode:         FXImportModeApply,
		Stdin:        strings.NewReader("no\n"),
		Stdout:       new(bytes.Buffer),
		Stderr:       stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "cancelled")
	require.Empty(t, store.upserted)
}

func TestImportCommandRejectsBadRows(t *testing.T) {
	cases := map[string]string{
		"missing column": "account_id,rate\n20,3.6\n",
		"bad date":       "account_id,date,rate\n20,01/01/2026,3.6\n",
		"zero rate":      "account_id,date,rate\n20,2026-01-01,0\n",
		"precision":      "account_id,date,rate\n20,2026-01-01,3.1234567\n",
		"bad account":    "account_id,date,rate\nx,2026-01-01,3.6\n",
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			cli, err := NewFXOpsCLI(&stubRateStore{}, "AED")
			require.NoError(t, err)
			stderr := new(bytes.Buffer)
			code := cli.ImportCommand(context.Background(), FXImportOptions{
				SourceReader: strings.NewReader(source),
				Stdout:       new(bytes.Buffer),
				Stderr:       stderr,
			})
			require.Equal(t, 1, code)
			require.Contains(t, stderr.String(), "fx import:")
		})
	}
}

func TestImportCommandSurfacesStoreError(t *testing.T) {
	cli, err := NewFXOpsCLI(&stubRateStore{err: errors.New("db down")}, "AED")
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := cli.ImportCommand(context.Background(), FXImportOptions{
		SourceReader: strings.NewReader("account_id,date,rate\n20,2026-01-01,3.6725\n"),
		Mode:         FXImportModeApply,
		Confirm:      yes,
		Stdout:       new(bytes.Buffer),
		Stderr:       stderr,
	})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "db down")
}

func TestGapsCommandJSONGaps(t *testing.T) {
	store := &stubRateStore{gaps: []fx.RateGap{{AccountID: 20, AccountName: "USD Operating", CurrencyCode: "USD"}}}
	cli, err := NewFXOpsCLI(store, "AED")
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := cli.GapsCommand(context.Background(), FXGapsOptions{
		Date:       "2026-03-31",
		JSONOutput: true,
		Stdout:     stdout,
		Stderr:     new(bytes.Buffer),
	})
	require.Equal(t, 10, code)
	require.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), store.gapsOn)

	var summary FXGapsSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, "AED", summary.Base)
	require.Equal(t, "USD", summary.Gaps[0].Currency)
}

func TestGapsCommandDefaultsToToday(t *testing.T) {
	store := &stubRateStore{}
	cli, err := NewFXOpsCLI(store, "AED")
	require.NoError(t, err)
	cli.now = func() time.Time { return time.Date(2026, 5, 4, 17, 30, 0, 0, time.UTC) }

	stdout := new(bytes.Buffer)
	code := cli.GapsCommand(context.Background(), FXGapsOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Zero(t, code)
	require.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), store.gapsOn)
	require.Contains(t, stdout.String(), "Every foreign-currency account has a rate.")
}

func TestGapsCommandInvalidDate(t *testing.T) {
	cli, err := NewFXOpsCLI(&stubRateStore{}, "AED")
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	code := cli.GapsCommand(context.Background(), FXGapsOptions{Date: "2026-13-01", Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "invalid date")
}

func TestNewFXOpsCLIRequiresBase(t *testing.T) {
	_, err := NewFXOpsCLI(&stubRateStore{}, " ")
	require.Error(t, err)
	_, err = NewFXOpsCLI(nil, "AED")
	require.Error(t, err)
}
