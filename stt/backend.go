package stt

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Backend is the compute device handed to the local whisper model.
type Backend string

const (
	BackendMPS  Backend = "mps"
	BackendCUDA Backend = "cuda"
	BackendCPU  Backend = "cpu"
)

const probeTimeout = 5 * time.Second

// Probe reports whether a backend can be used on this host.
type Probe struct {
	Backend   Backend
	Available func(ctx context.Context) (bool, error)
}

// DefaultProbes returns the host probes in preference order: Apple Metal,
// then CUDA (NVIDIA or ROCm).
func DefaultProbes() []Probe {
	return []Probe{
		{Backend: BackendMPS, Available: probeMPS},
		{Backend: BackendCUDA, Available: probeCUDA},
	}
}

// SelectBackend returns the first backend whose probe succeeds. A probe that
// errors counts as unavailable, so the result is always usable.
func SelectBackend(ctx context.Context, probes []Probe, logger *slog.Logger) Backend {
	for _, p := range probes {
		if p.Backend == BackendCPU {
			break
		}
		ok, err := p.Available(ctx)
		if err != nil {
			logger.Warn("Error detecting device",
				slog.String("backend", string(p.Backend)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return p.Backend
		}
	}
	return BackendCPU
}

// ResolveBackend honours a pinned device and probes otherwise.
func ResolveBackend(ctx context.Context, device string, probes []Probe, logger *slog.Logger) Backend {
	var backend Backend
	switch device {
	case string(BackendMPS), string(BackendCUDA), string(BackendCPU):
		backend = Backend(device)
	default:
		backend = SelectBackend(ctx, probes, logger)
	}
	logger.Info("Using device", slog.String("backend", string(backend)))
	return backend
}

func probeMPS(context.Context) (bool, error) {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64", nil
}

func probeCUDA(ctx context.Context) (bool, error) {
	for _, tool := range [][]string{
		{"nvidia-smi", "-L"},
		{"rocm-smi", "--showproductname"},
	} {
		ok, err := runProbe(ctx, tool[0], tool[1:]...)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// runProbe treats a missing tool as "not available" and any other failure as
// a probe error.
func runProbe(ctx context.Context, name string, args ...string) (bool, error) {
	path, err := exec.LookPath(name)
	if errors.Is(err, exec.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, args...).Output()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}
