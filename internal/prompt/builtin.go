package prompt

// Template names, one per reasoning stage.
const (
	Plan           = "plan"
	Discover       = "discover"
	Select         = "select"
	Document       = "document"
	Generate       = "generate"
	CorrectStatic  = "correct-static"
	CorrectRuntime = "correct-runtime"
	CorrectDomain  = "correct-domain"
)

// builtinTemplates maps template name to content.
var builtinTemplates = map[string]string{
	Plan:           planTemplate,
	Discover:       discoverTemplate,
	Select:         selectTemplate,
	Document:       documentTemplate,
	Generate:       generateTemplate,
	CorrectStatic:  correctStaticTemplate,
	CorrectRuntime: correctRuntimeTemplate,
	CorrectDomain:  correctDomainTemplate,
}

const planTemplate = `You are planning an electronic circuit design.

Break the request in the input down into an ordered build plan: power,
signal path, protection, connectors. Note any electrical requirements the
request implies (supply voltage, current budget, logic levels).

Respond with a single JSON object:
{"summary": "...", "steps": ["..."], "requirements": ["..."]}`

const discoverTemplate = `You are finding parts for a planned circuit.

For the plan in the input, list the part libraries to search and the
candidate parts for each planned step. Prefer common, well-stocked parts.

Respond with a single JSON object:
{"libraries": ["..."], "parts": [{"library": "...", "name": "...", "notes": "..."}]}`

const selectTemplate = `You are selecting final components for a circuit.

From the discovered candidates in the input, choose one concrete part per
role and assign reference designators (R1, C1, U1, J1...). Every planned
step must be covered.

Respond with a single JSON object:
{"components": [{"ref": "...", "library": "...", "part": "...", "value": "..."}], "rationale": "..."}`

const documentTemplate = `You are documenting a circuit design.

Write a concise markdown design document for the plan and selected
components in the input: purpose, block description, component table, and
net-by-net connection notes.

Respond with a single JSON object:
{"markdown": "..."}`

const generateTemplate = `You are writing a Python circuit-generation script.

Implement the design in the input as a complete, runnable Python script.
The script must:
- instantiate every selected component with its reference designator
- connect all nets described in the design document
- write its netlist and schematic outputs under {{output_dir}}
- support a --erc-only flag that runs the electrical rule check and exits

Respond with a single JSON object:
{"script": "...", "notes": "..."}`

const correctStaticTemplate = `The circuit script fails static validation.

Fix the syntax issues listed in the input without changing the design:
same components, same nets, same outputs.

Respond with a single JSON object:
{"script": "...", "corrections": ["..."]}`

const correctRuntimeTemplate = `The circuit script crashed when executed.

Fix the failure listed in the input without changing the design: same
components, same nets, same outputs.

Respond with a single JSON object:
{"script": "...", "corrections": ["..."]}`

const correctDomainTemplate = `The electrical rule check reported findings
for the circuit script.

Fix the issues listed in the input and return a revised script. Only when
every remaining finding is a warning that is genuinely acceptable for this
design may you approve instead of fixing; an approval must carry a clear
rationale, and it never covers errors.

Respond with a single JSON object, one of:
{"script": "...", "corrections": ["..."]}
{"approved": true, "rationale": "..."}`
