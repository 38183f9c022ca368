// Copyright (c) ConvoFlow Authors.
// Licensed under the MIT License.

/*
Package llm defines the provider-neutral model contract used by the
orchestrator.

An [Adapter] turns a [Request] (windowed turns, tool catalog, system prompt
and sampling overrides) into a [Response], either in one call or as a
finite stream of [Chunk] values that ends with exactly one Final or Err
chunk. Adapters never retry; they classify failures as *types.Error and
leave the retry decision to the caller.

Concrete adapters live under llm/providers and are built by name with
llm/factory. [EstimateCost] prices token usage per provider and model.
*/
package llm
