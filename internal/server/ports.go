package server

import (
	"errors"
	"net"
	"strconv"
	"syscall"

	"github.com/kiln-build/kiln/internal/config"
	kilnerrors "github.com/kiln-build/kiln/internal/errors"
)

// MaxPortRetries bounds the conflict-resolution loop so it terminates even
// under pathological port exhaustion.
const MaxPortRetries = 20

// PortProbeResult is the usable (port, companion-port) pair chosen by
// conflict resolution.
type PortProbeResult struct {
	ChosenPort          int
	ChosenCompanionPort int
}

// probeFunc opens a throwaway socket to test whether a port is free.
type probeFunc func(host string, port int) error

// probeBind is the real probe: bind, then release immediately.
func probeBind(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

// resolveWith probes (port, host); on conflict it advances the port and
// the companion port together by unit increments, keeping them numerically
// correlated. Strict mode forbids any retry. Errors other than
// address-in-use are fatal and never retried.
func resolveWith(probe probeFunc, port, companionPort int, strict bool, host string) (PortProbeResult, error) {
	for attempt := 0; attempt <= MaxPortRetries; attempt++ {
		p := port + attempt
		err := probe(host, p)
		if err == nil {
			return PortProbeResult{
				ChosenPort:          p,
				ChosenCompanionPort: companionPort + attempt,
			}, nil
		}
		if !isAddrInUse(err) {
			return PortProbeResult{}, translateBindError(err, host, p)
		}
		if strict {
			return PortProbeResult{}, kilnerrors.New("E211").WithDetailf("port %d is in use and strictPort is enabled", p).Wrap(err)
		}
	}
	return PortProbeResult{}, kilnerrors.New("E212").WithDetailf("no free port in %d-%d on %s", port, port+MaxPortRetries, host)
}

// ResolvePorts runs conflict resolution for the configured pair and writes
// the chosen ports back into the in-progress configuration. This is the
// single mutation of the configuration after normalization; no component
// may rebind afterwards without re-resolving.
func ResolvePorts(cfg *config.ServerConfig) (PortProbeResult, error) {
	companion := config.DefaultHMRPort
	if cfg.HMR != nil {
		companion = cfg.HMR.Port
	}

	res, err := resolveWith(probeBind, cfg.Port, companion, cfg.StrictPort, cfg.Host)
	if err != nil {
		return PortProbeResult{}, err
	}

	cfg.Port = res.ChosenPort
	if cfg.HMR != nil {
		cfg.HMR.Port = res.ChosenCompanionPort
	}
	return res, nil
}

// BindErrorKind is the closed enumeration of socket bind failures.
type BindErrorKind int

const (
	BindAddressInUse BindErrorKind = iota
	BindPermissionDenied
	BindAddressUnavailable
	BindOther
)

// classifyBindError maps an OS-level listen error onto the closed
// enumeration. Codes that do not classify land on BindOther explicitly
// rather than falling back to a generic message silently.
func classifyBindError(err error) BindErrorKind {
	switch {
	case isAddrInUse(err):
		return BindAddressInUse
	case errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM):
		return BindPermissionDenied
	case errors.Is(err, syscall.EADDRNOTAVAIL):
		return BindAddressUnavailable
	default:
		return BindOther
	}
}

// translateBindError turns a listen failure into its coded, human-readable
// form. The switch is exhaustive over the enumeration.
func translateBindError(err error, host string, port int) *kilnerrors.KilnError {
	var code string
	switch classifyBindError(err) {
	case BindAddressInUse:
		code = "E221"
	case BindPermissionDenied:
		code = "E222"
	case BindAddressUnavailable:
		code = "E223"
	case BindOther:
		code = "E224"
	}
	return kilnerrors.New(code).WithDetailf("listening on %s:%d", host, port).Wrap(err)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
