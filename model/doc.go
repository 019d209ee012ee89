// Package model holds the JSON payloads exchanged with an evaluation engine:
// user and options configuration, evaluation results, events, the specs
// document an engine serves from and the arguments of host adapter calls.
//
// Everything here is plain data. Values returned to callers are copies that
// stay valid after the engine object they came from is released.
package model
