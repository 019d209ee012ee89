package engine

import (
	"github.com/tetratelabs/wazero/api"
)

// Guest exports.
const (
	ExportMemory           = "memory"
	ExportAlloc            = "fc_alloc"
	ExportFree             = "fc_free"
	ExportCreate           = "fc_create"
	ExportCreateHost       = "fc_create_host"
	ExportRelease          = "fc_release"
	ExportOperate          = "fc_operate"
	ExportOperateAsync     = "fc_operate_async"
	ExportPrepareShutdown  = "fc_prepare_shutdown"
	ExportFinalizeShutdown = "fc_finalize_shutdown"
	ExportPoll             = "fc_poll"
)

// Host imports, all in module HostModule.
const (
	HostModule     = "env"
	ImportComplete = "fc_complete"
	ImportHostCall = "fc_host_call"
	ImportLog      = "fc_log"
)

// Envelope status bytes. A result buffer starts with one status byte followed
// by the JSON payload, or by the error message when the status is
// statusError. An empty buffer is a successful empty result.
const (
	statusOK    byte = 0
	statusError byte = 1
)

// Guest log levels passed to fc_log.
const (
	levelDebug uint32 = iota
	levelInfo
	levelWarn
	levelError
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// exportSignatures lists the required guest exports with their core
// signatures. fc_poll is optional.
var exportSignatures = map[string]struct{ params, results []api.ValueType }{
	ExportAlloc:            {[]api.ValueType{i32}, []api.ValueType{i32}},
	ExportFree:             {[]api.ValueType{i32, i32}, nil},
	ExportCreate:           {[]api.ValueType{i32, i32, i32}, []api.ValueType{i64}},
	ExportCreateHost:       {[]api.ValueType{i32, i32}, []api.ValueType{i64}},
	ExportRelease:          {[]api.ValueType{i64}, nil},
	ExportOperate:          {[]api.ValueType{i64, i32, i32, i32, i32}, []api.ValueType{i64}},
	ExportOperateAsync:     {[]api.ValueType{i64, i32, i32, i32, i32, i64}, nil},
	ExportPrepareShutdown:  {[]api.ValueType{i64, i64}, nil},
	ExportFinalizeShutdown: {[]api.ValueType{i64}, nil},
}

// packPtrLen packs a guest buffer into one i64, pointer in the high half.
func packPtrLen(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

func unpackPtrLen(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

// encodeEnvelope builds a result buffer from a payload or an error.
func encodeEnvelope(payload []byte, err error) []byte {
	if err != nil {
		msg := err.Error()
		out := make([]byte, 1+len(msg))
		out[0] = statusError
		copy(out[1:], msg)
		return out
	}
	if len(payload) == 0 {
		return nil
	}
	out := make([]byte, 1+len(payload))
	out[0] = statusOK
	copy(out[1:], payload)
	return out
}

// guestError is an error reported by the guest through an envelope.
type guestError string

func (e guestError) Error() string { return string(e) }

// decodeEnvelope splits a result buffer into payload or error.
func decodeEnvelope(buf []byte) ([]byte, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	switch buf[0] {
	case statusOK:
		if len(buf) == 1 {
			return nil, nil
		}
		return buf[1:], nil
	case statusError:
		return nil, guestError(buf[1:])
	}
	return nil, guestError("malformed result envelope")
}
