// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package sbdd implements the logical block device. The device admits every
// incoming request through the quiesce controller and hands it over to the
// backend selected at creation time. Backends map logical requests onto
// backing stores, either by serving them directly (memory) or by issuing
// derived requests whose completions are routed back through the proxy
// completion tracker.
//
// Exactly one quiesce reference is held per admitted request. It is dropped
// when the request is completed, after all derived requests including
// failover retries terminated. Teardown waits until no reference is held.
package sbdd
