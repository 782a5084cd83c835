package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultAlignment is the boundary the Android runtime expects for
	// uncompressed entries it maps directly
	DefaultAlignment = 4

	// MinAlignedSize is the smallest output a rewrite may produce: anything at
	// or below an empty archive's end record is treated as a failed attempt
	MinAlignedSize = directoryEndLen
)

// Strategy names, in the order an Aligner tries them
const (
	StrategyAlreadyAligned = "already-aligned"
	StrategyPrimary        = "primary"
	StrategyRobust         = "robust"
	StrategyPassthrough    = "passthrough"
)

// ErrNotAligned is returned by the already-aligned check when some entry needs padding
var ErrNotAligned = errors.New("archive: entries are not aligned")

// AlignStrategy is one named way of producing an aligned copy of input at
// output. Run returns the alignment the output satisfies.
type AlignStrategy struct {
	Name string
	Run  func(input, output string) (int, error)
}

// AlignAttempt records a strategy that did not produce output
type AlignAttempt struct {
	Strategy string
	Err      error
}

// AlignResult describes how Align produced its output
type AlignResult struct {
	// Strategy is the name of the strategy that produced output
	Strategy string
	// Alignment is the boundary the output satisfies (0 when unaligned)
	Alignment int
	// Aligned is false when the unaligned input was passed through
	Aligned bool
	// Attempts lists the strategies that failed before Strategy succeeded
	Attempts []AlignAttempt
}

// Aligner rewrites archives so STORED entry data starts on an alignment
// boundary. Strategies are tried in order; if all fail the input is copied
// through unchanged, which still yields an installable archive.
type Aligner struct {
	Alignment      int
	MinAlignedSize int64
	Strategies     []AlignStrategy
}

// NewAligner returns an Aligner with the default strategy list
func NewAligner(alignment int) *Aligner {
	if alignment <= 0 {
		alignment = DefaultAlignment
	}
	a := &Aligner{
		Alignment:      alignment,
		MinAlignedSize: MinAlignedSize,
	}
	a.Strategies = []AlignStrategy{
		{Name: StrategyAlreadyAligned, Run: a.alreadyAligned},
		{Name: StrategyPrimary, Run: a.primary},
		{Name: StrategyRobust, Run: a.robust},
	}
	return a
}

// Align writes an aligned copy of input to output.
// An error is returned only when not even the passthrough copy succeeds.
func (a *Aligner) Align(input, output string) (*AlignResult, error) {
	res := &AlignResult{}

	for _, s := range a.Strategies {
		alignment, err := s.Run(input, output)
		if err == nil {
			res.Strategy = s.Name
			res.Alignment = alignment
			res.Aligned = true
			return res, nil
		}
		res.Attempts = append(res.Attempts, AlignAttempt{Strategy: s.Name, Err: err})
	}

	if err := CopyFile(input, output); err != nil {
		return nil, fmt.Errorf("failed to pass through unaligned archive: %w", err)
	}
	res.Strategy = StrategyPassthrough
	return res, nil
}

// alreadyAligned copies input unchanged when every entry is already aligned
func (a *Aligner) alreadyAligned(input, output string) (int, error) {
	misaligned, err := CheckAlignment(input, a.Alignment)
	if err != nil {
		return 0, err
	}
	if len(misaligned) > 0 {
		return 0, fmt.Errorf("%w: %d entries, first %s", ErrNotAligned, len(misaligned), misaligned[0])
	}
	if err := CopyFile(input, output); err != nil {
		return 0, err
	}
	if err := a.verifyOutput(output, a.Alignment); err != nil {
		return 0, err
	}
	return a.Alignment, nil
}

// primary rewrites every entry with padded local headers
func (a *Aligner) primary(input, output string) (int, error) {
	if err := a.rewrite(input, output, a.Alignment, true); err != nil {
		return 0, err
	}
	if err := a.verifyOutput(output, a.Alignment); err != nil {
		return 0, err
	}
	return a.Alignment, nil
}

// robust retries the rewrite over alignments 4 and 8, writing in place and
// through a temporary file, and accepts the first plausible output
func (a *Aligner) robust(input, output string) (int, error) {
	var errs []error
	for _, alignment := range []int{4, 8} {
		for _, overwrite := range []bool{true, false} {
			if err := a.rewrite(input, output, alignment, overwrite); err != nil {
				errs = append(errs, fmt.Errorf("align=%d overwrite=%v: %w", alignment, overwrite, err))
				continue
			}
			if err := a.verifyOutput(output, alignment); err != nil {
				errs = append(errs, fmt.Errorf("align=%d overwrite=%v: %w", alignment, overwrite, err))
				continue
			}
			return alignment, nil
		}
	}
	return 0, errors.Join(errs...)
}

func (a *Aligner) rewrite(input, output string, alignment int, overwrite bool) error {
	entries, err := ReadEntries(input)
	if err != nil {
		return err
	}

	// Rewriting over the input would destroy it if the write fails
	if overwrite && !sameFile(input, output) {
		return WriteEntries(output, entries, alignment)
	}

	tmp, err := os.CreateTemp(filepath.Dir(output), filepath.Base(output)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := WriteEntries(tmpPath, entries, alignment); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, output); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move aligned archive into place: %w", err)
	}
	return nil
}

func (a *Aligner) verifyOutput(output string, alignment int) error {
	info, err := os.Stat(output)
	if err != nil {
		return err
	}
	if info.Size() <= a.MinAlignedSize {
		return fmt.Errorf("output is only %d bytes", info.Size())
	}
	misaligned, err := CheckAlignment(output, alignment)
	if err != nil {
		return err
	}
	if len(misaligned) > 0 {
		return fmt.Errorf("%w: %s", ErrNotAligned, strings.Join(misaligned, ", "))
	}
	return nil
}
