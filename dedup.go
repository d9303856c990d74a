package colony

// Duplicate detection for prospective tool calls.
//
// Before dispatching a tool call the engine scans the conversation for an
// earlier accepted invocation that makes the new call redundant. A match
// turns the new call into a rejected turn that references the earlier one,
// so the model sees why nothing ran. The rules depend on the tool's
// preservation policy and on whether anything mutating happened in between.

// DuplicateMatch describes an earlier turn that makes a prospective call redundant.
type DuplicateMatch struct {
	TurnIndex int
	Tool      string
}

// SpecLookup resolves a tool name to its registry specification. Scans need
// it to decide whether intervening turns were mutating.
type SpecLookup func(name string) (ToolSpec, bool)

// DetectDuplicate reports whether a prospective call of tool with args, to be
// recorded at turn index turnIdx, duplicates an earlier invocation in turns.
//
// Under the until-build policy the last accepted invocation of the same tool
// matches regardless of arguments, unless any mutating turn ran since. Under
// every other policy the scan walks turns below turnIdx in reverse, skipping
// rejected, deleted and pending-deletion entries and other tools, and matches
// on equal args hash (or, when the hash is empty, equal normalised filename).
// For non-mutating tools a match is discarded when a mutating turn lies
// strictly between the candidate and turnIdx.
func DetectDuplicate(turns []Turn, turnIdx int, tool string, args []byte, policy Policy, specs SpecLookup) (DuplicateMatch, bool) {
	if policy == "" {
		policy = PolicyOneTime
	}
	if policy == PolicyUntilBuild {
		return detectUntilBuild(turns, turnIdx, tool, specs)
	}

	argsHash := HashArgs(args)
	fileKey := NormalizeFileKey(args)

	candidate := -1
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Index >= turnIdx {
			continue
		}
		meta := t.Tool
		if meta == nil || skippable(meta) || meta.Name != tool {
			continue
		}
		if argsHash != "" {
			if meta.ArgsHash == argsHash {
				candidate = i
				break
			}
			continue
		}
		if meta.NormalizedFilename != "" && meta.NormalizedFilename == fileKey {
			candidate = i
			break
		}
	}
	if candidate < 0 {
		return DuplicateMatch{}, false
	}
	if !prospectiveMutating(tool, specs) {
		if mutatorBetween(turns, turns[candidate].Index, turnIdx, fileKey, specs, true) {
			return DuplicateMatch{}, false
		}
	}
	return DuplicateMatch{TurnIndex: turns[candidate].Index, Tool: tool}, true
}

// detectUntilBuild matches the last accepted invocation of the same tool,
// broken by any mutating turn since, with no argument comparison. The file
// key constraint does not apply here: a build-ish tool is stale the moment
// anything in the workspace changed.
func detectUntilBuild(turns []Turn, turnIdx int, tool string, specs SpecLookup) (DuplicateMatch, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Index >= turnIdx {
			continue
		}
		meta := t.Tool
		if meta == nil || skippable(meta) || meta.Name != tool {
			continue
		}
		if mutatorBetween(turns, t.Index, turnIdx, "", specs, false) {
			return DuplicateMatch{}, false
		}
		return DuplicateMatch{TurnIndex: t.Index, Tool: tool}, true
	}
	return DuplicateMatch{}, false
}

// mutatorBetween reports whether any turn with from < idx < to executed a
// mutating tool. When keyed is true a declared-mutating tool only counts if
// it operated on fileKey; run_bash always counts. Rejected and deleted turns
// never executed, so they never count.
func mutatorBetween(turns []Turn, from, to int, fileKey string, specs SpecLookup, keyed bool) bool {
	for _, t := range turns {
		if t.Index <= from || t.Index >= to {
			continue
		}
		meta := t.Tool
		if meta == nil || skippable(meta) {
			continue
		}
		if meta.Name == ToolRunBash {
			return true
		}
		spec, ok := specs(meta.Name)
		if !ok || !spec.Mutating() {
			continue
		}
		if !keyed || meta.NormalizedFilename == fileKey {
			return true
		}
	}
	return false
}

// prospectiveMutating reports whether the call being deduplicated is itself
// mutating; mutating calls keep their match even across intervening mutators.
func prospectiveMutating(tool string, specs SpecLookup) bool {
	if tool == ToolRunBash {
		return true
	}
	spec, ok := specs(tool)
	return ok && spec.Mutating()
}

// skippable reports whether a tool turn is excluded from dedup scans:
// rejected calls never ran, deleted and pending-deletion entries are
// logically gone.
func skippable(meta *ToolMeta) bool {
	return meta.Status == StatusRejected || meta.Deleted || meta.PendingDeletion
}
