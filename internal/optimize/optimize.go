// Package optimize shrinks finished PDFs.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Optimizer rewrites the PDF at in into out.
type Optimizer interface {
	Name() string
	Optimize(ctx context.Context, in, out string) error
}

// Options configures the external tools.
type Options struct {
	QPDFPath string
}

// New returns the optimizer registered under name, wrapped so that it
// never produces a file larger than its input.
func New(name string, opts Options) (Optimizer, error) {
	var o Optimizer
	switch name {
	case "", "pdfcpu":
		o = &Pdfcpu{}
	case "qpdf":
		path := opts.QPDFPath
		if path == "" {
			path = "qpdf"
		}
		o = &QPDF{Path: path}
	case "none":
		return Copy{}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
	return NeverGrow(o), nil
}

var disableConfigDir sync.Once

// Pdfcpu optimizes in-process: duplicate resources are merged and unused
// objects dropped.
type Pdfcpu struct{}

func (*Pdfcpu) Name() string { return "pdfcpu" }

func (*Pdfcpu) Optimize(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.OptimizeFile(in, out, conf); err != nil {
		return fmt.Errorf("pdfcpu optimize: %w", err)
	}
	return nil
}

// QPDF runs the qpdf binary.
type QPDF struct {
	Path string
}

func (*QPDF) Name() string { return "qpdf" }

func (q *QPDF) Optimize(ctx context.Context, in, out string) error {
	args := []string{
		"--object-streams=generate",
		"--compress-streams=y",
		"--recompress-flate",
		in,
		out,
	}

	cmd := exec.CommandContext(ctx, q.Path, args...)
	slog.Debug("running qpdf", "args", args)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Exit status 3 means success with warnings.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 3 {
			slog.Warn("qpdf reported warnings", "output", string(output))
			return nil
		}
		return fmt.Errorf("qpdf failed: %w: %s", err, output)
	}
	return nil
}

// Copy leaves the document unchanged.
type Copy struct{}

func (Copy) Name() string { return "none" }

func (Copy) Optimize(_ context.Context, in, out string) error {
	return copyFile(in, out)
}

type neverGrow struct {
	Optimizer
}

// NeverGrow wraps o so that out is replaced by a copy of in whenever the
// optimized result is larger than the input.
func NeverGrow(o Optimizer) Optimizer {
	return neverGrow{Optimizer: o}
}

func (n neverGrow) Optimize(ctx context.Context, in, out string) error {
	if err := n.Optimizer.Optimize(ctx, in, out); err != nil {
		return err
	}

	inInfo, err := os.Stat(in)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	outInfo, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("stat optimized output: %w", err)
	}
	if outInfo.Size() <= inInfo.Size() {
		slog.Debug("pdf optimized", "optimizer", n.Name(), "before", inInfo.Size(), "after", outInfo.Size())
		return nil
	}

	slog.Debug("optimized pdf larger than input, keeping original",
		"optimizer", n.Name(), "before", inInfo.Size(), "after", outInfo.Size())
	return copyFile(in, out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}
