package ethicalfilter

type PromptTemplateData struct {
	Edits []string
}

func GetPromptFilterTemplate() string {
	return `
	Categorize the user's image edit instruction as a JSON dict:
	{
		"sexualize_child": (boolean),
		"child": (boolean),
		"nudity": (boolean),
		"sexual": (boolean),
		"violence": (boolean),
		"disturbing": (boolean),
		"persons": [{"name": (string), "real_person": (boolean)}],
		"edits": string[]
	}

	Criteria:
	- "sexualize_child": True for sexualizing children under the age of 16, including skimpy clothes and mention of being naughty.
	- "child": True if the edited image would show a child under the age of 16. "Teen" does not imply child.
	- "nudity": True for any requested nudity, including "uncovered" or removing clothing.
	- "sexual": True for adult themes or explicit content.
	- "violence": True only for extreme violence or gore.
	- "disturbing": True only for potentially offensive content.
	- "persons": List named subjects, flag "real_person" for identifiable figures, excluding generic names and fictional characters.
	- "edits": Select the kinds of edit requested. Available kinds: [{{range $index, $edit := .Edits}}{{if $index}}, {{end}}"{{$edit}}"{{end}}]. Leave empty if unclear.
	`
}
