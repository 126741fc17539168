package store

// ProjectThreads filters threads by their owning project.
func ProjectThreads(threads []Thread, projectID string) []Thread {
	out := make([]Thread, 0)
	for _, thread := range threads {
		if thread.ProjectID == projectID {
			out = append(out, thread)
		}
	}
	return out
}

func CommentCount(threads []Thread, projectID string) int {
	total := 0
	for _, thread := range threads {
		if thread.ProjectID == projectID {
			total += len(thread.Comments)
		}
	}
	return total
}

// RecomputeCommentCounts returns a copy of projects with every commentCount
// replaced by the live sum over threads. The input slice is not modified.
func RecomputeCommentCounts(projects []Project, threads []Thread) []Project {
	counts := make(map[string]int, len(projects))
	for _, thread := range threads {
		counts[thread.ProjectID] += len(thread.Comments)
	}
	out := make([]Project, len(projects))
	for i, project := range projects {
		project.CommentCount = counts[project.ID]
		out[i] = project
	}
	return out
}

func FindProject(projects []Project, id string) (int, bool) {
	for i, project := range projects {
		if project.ID == id {
			return i, true
		}
	}
	return -1, false
}

func CloneProjects(projects []Project) []Project {
	if projects == nil {
		return []Project{}
	}
	out := make([]Project, len(projects))
	copy(out, projects)
	return out
}

func CloneThread(thread Thread) Thread {
	out := thread
	out.Comments = make([]Comment, len(thread.Comments))
	copy(out.Comments, thread.Comments)
	return out
}
