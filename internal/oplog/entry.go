// Package oplog models the source replication log (spec.md §3
// "OplogEntry") and implements the Oplog Tailer component (C5,
// spec.md §4.4): following the log from a pinned start timestamp,
// translating each entry into a destination mutation, and applying it.
package oplog

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Op is one of the five operation kinds spec.md §3 names.
type Op string

const (
	Insert  Op = "i"
	Update  Op = "u"
	Delete  Op = "d"
	Command Op = "c"
	Noop    Op = "n"
)

// Entry is the abstract OplogEntry record from spec.md §3. Ts is opaque
// but totally ordered; within a single source oplog it is strictly
// increasing. Entry does not check this: Tailer.consume relies on it by
// applying entries in the order the oplog cursor returns them.
type Entry struct {
	TS  primitive.Timestamp `bson:"ts"`
	Op  Op                  `bson:"op"`
	NS  string              `bson:"ns"`
	O   bson.Raw            `bson:"o"`
	O2  bson.Raw            `bson:"o2,omitempty"`
	LSID            bson.Raw `bson:"lsid,omitempty"`
	TxnNumber       *int64   `bson:"txnNumber,omitempty"`
	PrevOpTime      bson.Raw `bson:"prevOpTime,omitempty"`
}

// IsModifier reports whether o is a $-operator update modifier (as
// opposed to a full-document replacement). Used by the update-apply rule
// in spec.md §4.4: "upsert=false when the payload is a $-modifier".
func IsModifier(o bson.Raw) bool {
	elems, err := o.Elements()
	if err != nil || len(elems) == 0 {
		return false
	}
	key := elems[0].Key()
	return len(key) > 0 && key[0] == '$'
}

// InTxn reports whether e is part of a multi-statement transaction
// (carries a logical session id and transaction number), the trigger for
// the distributed-transaction buffering described in SPEC_FULL.md §4.4.
func (e Entry) InTxn() bool {
	return len(e.LSID) > 0 && e.TxnNumber != nil
}

// TxnKey identifies the transaction e belongs to.
func (e Entry) TxnKey() string {
	if e.TxnNumber == nil {
		return ""
	}
	return string(e.LSID) + ":" + itoa(*e.TxnNumber)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
