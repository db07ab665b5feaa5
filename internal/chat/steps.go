package chat

// GroupedStep is a step annotated with its position in the raw step list.
type GroupedStep struct {
	Step
	OriginalIndex int
}

// StepGroup collects consecutive reports of the same step title. Status is
// the status of the most recent report.
type StepGroup struct {
	Title  string
	Status string
	Items  []GroupedStep
}

// GroupSteps folds a raw step list into display groups. Groups appear in
// first-seen title order, items keep their original index, and each new
// report of a title overwrites the group status. Appending steps to the
// input never reorders or removes existing groups.
func GroupSteps(steps []Step) []StepGroup {
	groups := make([]StepGroup, 0, len(steps))
	byTitle := make(map[string]int, len(steps))

	for i, s := range steps {
		gi, ok := byTitle[s.Title]
		if !ok {
			byTitle[s.Title] = len(groups)
			groups = append(groups, StepGroup{Title: s.Title})
			gi = len(groups) - 1
		}
		groups[gi].Status = s.Status
		groups[gi].Items = append(groups[gi].Items, GroupedStep{Step: s, OriginalIndex: i})
	}

	return groups
}
