// Package models defines the core domain models for Splitsync.
//
// # Ownership
//
// A Bill exclusively owns its Members and Expenses; an Expense owns its
// ExpenseItems. Cross-references (payer, participants, transfer endpoints)
// are plain identifier strings resolved by lookup, never back-pointers, so
// the object graph is a strict tree with no cycles.
//
// # Identifiers
//
// Every entity carries a client-generated local ID. Entities that have been
// reconciled with the server additionally carry a ServerID. On the server's
// authoritative copy the two are the same value. The local ID never changes
// for the lifetime of the working copy; syncing only fills in ServerID.
//
// # Snapshots
//
// A Snapshot is a frozen deep copy of the bill taken at the moment a sync
// last succeeded. It is used exclusively as a diff baseline: mutating the
// working Bill must never be observable through a previously taken Snapshot.
package models
