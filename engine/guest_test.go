package engine

// A hand-assembled guest used by the tests. It allocates with a bump
// pointer, hands out kind-prefixed references from one counter and echoes
// operation arguments back as the result. An operation without arguments is
// forwarded to the most recently created host adapter. An async operation
// named "defer" completes on the next fc_poll.

const (
	vtI32 = 0x7f
	vtI64 = 0x7e
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func functype(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func code(locals []byte, body ...byte) []byte {
	fn := append(append([]byte{}, locals...), body...)
	return append(uleb(uint32(len(fn))), fn...)
}

type guestOptions struct {
	omitAlloc bool
}

func buildGuest(opts guestOptions) []byte {
	types := vec(
		functype([]byte{vtI64, vtI32, vtI32}, nil),                         // 0 fc_complete
		functype([]byte{vtI32, vtI32, vtI32, vtI32, vtI32}, []byte{vtI64}), // 1 fc_host_call
		functype([]byte{vtI32, vtI32, vtI32}, nil),                         // 2 fc_log
		functype([]byte{vtI32}, []byte{vtI32}),                             // 3 alloc
		functype([]byte{vtI32, vtI32}, nil),                                // 4 free
		functype([]byte{vtI32, vtI32, vtI32}, []byte{vtI64}),               // 5 create
		functype([]byte{vtI32, vtI32}, []byte{vtI64}),                      // 6 create_host
		functype([]byte{vtI64}, nil),                                       // 7 release, finalize
		functype([]byte{vtI64, vtI32, vtI32, vtI32, vtI32}, []byte{vtI64}), // 8 operate
		functype([]byte{vtI64, vtI32, vtI32, vtI32, vtI32, vtI64}, nil),    // 9 operate_async
		functype([]byte{vtI64, vtI64}, nil),                                // 10 prepare
		functype(nil, []byte{vtI32}),                                       // 11 poll
	)

	imports := vec(
		append(append(name(HostModule), name(ImportComplete)...), 0x00, 0),
		append(append(name(HostModule), name(ImportHostCall)...), 0x00, 1),
		append(append(name(HostModule), name(ImportLog)...), 0x00, 2),
	)

	funcs := vec([]byte{3}, []byte{4}, []byte{5}, []byte{6}, []byte{7}, []byte{8}, []byte{9}, []byte{10}, []byte{7}, []byte{11})
	memory := vec([]byte{0x00, 0x01})

	mutI32 := func(init byte) []byte { return []byte{vtI32, 0x01, 0x41, init, 0x0b} }
	globals := vec(
		[]byte{vtI32, 0x01, 0x41, 0x80, 0x08, 0x0b}, // 0 heap = 1024
		mutI32(0),                             // 1 counter
		mutI32(0),                             // 2 host
		mutI32(0),                             // 3 released
		mutI32(0),                             // 4 finalized
		[]byte{vtI64, 0x01, 0x42, 0x00, 0x0b}, // 5 deferred token
	)

	fnExport := func(n string, idx byte) []byte { return append(name(n), 0x00, idx) }
	exportList := [][]byte{
		append(name(ExportMemory), 0x02, 0),
		fnExport(ExportFree, 4),
		fnExport(ExportCreate, 5),
		fnExport(ExportCreateHost, 6),
		fnExport(ExportRelease, 7),
		fnExport(ExportOperate, 8),
		fnExport(ExportOperateAsync, 9),
		fnExport(ExportPrepareShutdown, 10),
		fnExport(ExportFinalizeShutdown, 11),
		fnExport(ExportPoll, 12),
		append(name("released"), 0x03, 3),
		append(name("finalized"), 0x03, 4),
	}
	if !opts.omitAlloc {
		exportList = append(exportList, fnExport(ExportAlloc, 3))
	}
	exports := vec(exportList...)

	noLocals := []byte{0x00}
	oneI32 := []byte{0x01, 0x01, vtI32}

	// kind<<32 | counter, with counter bumped first.
	makeRef := []byte{
		0x23, 1, 0x41, 1, 0x6a, 0x24, 1,
		0x20, 0, 0xad, 0x42, 32, 0x86, 0x23, 1, 0xad, 0x84,
	}

	alloc := code(noLocals,
		0x23, 0,
		0x23, 0, 0x20, 0, 0x6a, 0x24, 0,
		0x0b)
	free := code(noLocals, 0x0b)

	createBody := []byte{
		0x20, 2, 0x45, 0x04, vtI64,
		0x42, 0,
		0x05,
		0x41, 1, 0x20, 1, 0x20, 2, 0x10, 2,
	}
	createBody = append(createBody, makeRef...)
	createBody = append(createBody, 0x0b, 0x0b)
	create := code(noLocals, createBody...)

	createHostBody := []byte{0x20, 1, 0x24, 2}
	createHostBody = append(createHostBody, makeRef...)
	createHostBody = append(createHostBody, 0x0b)
	createHost := code(noLocals, createHostBody...)

	release := code(noLocals, 0x23, 3, 0x41, 1, 0x6a, 0x24, 3, 0x0b)

	operate := code(oneI32,
		0x20, 4, 0x45, 0x04, vtI64,
		0x23, 2, 0x20, 1, 0x20, 2, 0x41, 0, 0x41, 0, 0x10, 1,
		0x05,
		0x20, 4, 0x41, 1, 0x6a, 0x10, 3, 0x21, 5,
		0x20, 5, 0x41, 0, 0x3a, 0, 0,
		0x20, 5, 0x41, 1, 0x6a, 0x20, 3, 0x20, 4, 0xfc, 0x0a, 0, 0,
		0x20, 5, 0xad, 0x42, 32, 0x86, 0x20, 4, 0x41, 1, 0x6a, 0xad, 0x84,
		0x0b,
		0x0b)

	operateAsync := code(oneI32,
		0x20, 2, 0x41, 5, 0x46, 0x04, 0x40,
		0x20, 5, 0x24, 5, 0x0f,
		0x0b,
		0x20, 4, 0x41, 1, 0x6a, 0x10, 3, 0x21, 6,
		0x20, 6, 0x41, 0, 0x3a, 0, 0,
		0x20, 6, 0x41, 1, 0x6a, 0x20, 3, 0x20, 4, 0xfc, 0x0a, 0, 0,
		0x20, 5, 0x20, 6, 0x20, 4, 0x41, 1, 0x6a, 0x10, 0,
		0x0b)

	prepare := code(noLocals, 0x20, 1, 0x41, 0, 0x41, 0, 0x10, 0, 0x0b)
	finalize := code(noLocals, 0x23, 4, 0x41, 1, 0x6a, 0x24, 4, 0x0b)

	poll := code(noLocals,
		0x23, 5, 0x50, 0x04, vtI32,
		0x41, 0,
		0x05,
		0x23, 5, 0x41, 0, 0x41, 0, 0x10, 0,
		0x42, 0, 0x24, 5,
		0x41, 1,
		0x0b,
		0x0b)

	codes := vec(alloc, free, create, createHost, release, operate, operateAsync, prepare, finalize, poll)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(2, imports)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, memory)...)
	out = append(out, section(6, globals)...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, codes)...)
	return out
}
