package local

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wippyai/flagcore"
	"github.com/wippyai/flagcore/errors"
)

// hostObject is a host adapter registered through CreateHost.
type hostObject struct {
	fn   flagcore.HostFunc
	kind flagcore.Kind
}

// call invokes the adapter. A nil receiver is an absent adapter and a no-op.
func (h *hostObject) call(method string, args any, out any) (err error) {
	if h == nil {
		return nil
	}

	var payload []byte
	if args != nil {
		payload, err = json.Marshal(args)
		if err != nil {
			return errors.Encode(method, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseHost, errors.KindNativeCall).
				Op(method).
				Target(h.kind.String()).
				Detail("host adapter panicked: %v", r).
				Build()
		}
	}()

	res, err := h.fn(method, payload)
	if err != nil {
		return errors.New(errors.PhaseHost, errors.KindNativeCall).
			Op(method).
			Target(h.kind.String()).
			Cause(err).
			Build()
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return errors.Decode(method, err)
	}
	return nil
}

// callLogged invokes the adapter and logs failures instead of returning them.
func (h *hostObject) callLogged(method string, args any, out any) bool {
	if err := h.call(method, args, out); err != nil {
		Logger().Warn("host adapter call failed",
			zap.String("adapter", h.kind.String()),
			zap.String("method", method),
			zap.Error(err))
		return false
	}
	return true
}

func hostKind(kind flagcore.Kind) bool {
	switch kind {
	case flagcore.KindDataStore, flagcore.KindPersistentStorage, flagcore.KindObservability,
		flagcore.KindEventLogger, flagcore.KindOutputLogger:
		return true
	}
	return false
}
