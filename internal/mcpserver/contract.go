package mcpserver

// MappingFormatContract describes field mappings for LLM consumers that
// create or edit them.
const MappingFormatContract = `# cctsync Mapping Contract

A field mapping copies one field of a parent CCT item into one field of every
related child CCT item. The parent/child link is a JetEngine relation.

## Fields

` + "```" + `json
{
  "target_cct": "configs",          // REQUIRED - child CCT slug that receives the value
  "trigger_relation": 5,            // REQUIRED - relation id; its parent must be a CCT
  "source_field": "make_name",      // REQUIRED - field on the parent CCT
  "destination_field": "make_name", // REQUIRED - field on target_cct
  "direction": "pull",              // OPTIONAL - pull (default), push or both
  "ui_behavior": "readonly",        // OPTIONAL - readonly (default) or hidden
  "enabled": true                   // OPTIONAL - defaults to true
}
` + "```" + `

## Rules

1. **Slugs** use letters, digits, ` + "`" + `_` + "`" + ` and ` + "`" + `-` + "`" + ` only.
2. **Duplicates merge.** Saving a mapping whose target, relation, source and
   destination match an existing one updates that mapping and keeps its id.
3. **Explicit ids** update in place. An id whose new tuple matches a different
   mapping is rejected as a conflict.
4. **Directions.**
   - ` + "`" + `pull` + "`" + `: a child save reads the value from its parent. New children are
     filled right after creation, once the relation row exists.
   - ` + "`" + `push` + "`" + `: a parent save writes the value to every child, overwriting
     manual edits.
   - ` + "`" + `both` + "`" + `: both of the above.
5. **Relation endpoints** look like ` + "`" + `cct::makes` + "`" + `, ` + "`" + `terms::body_type` + "`" + ` or
   ` + "`" + `posts::page` + "`" + `. A bare slug means a CCT. Only CCT endpoints propagate.
6. **Warnings** returned by save_mapping name references that do not resolve
   (missing relation, field or CCT). The mapping is stored anyway and skipped
   at run time until the reference exists.
7. **Loops** between mappings are allowed but reported by the cycles check.
   A push that feeds a pull back into the same field converges after one save.

## Example

Keep the make name on every configuration of that make, read-only in the editor:

` + "```" + `json
{"target_cct": "configs", "trigger_relation": 5, "source_field": "make_name", "destination_field": "make_name", "direction": "both"}
` + "```" + `
`
