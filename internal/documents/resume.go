// Package documents reads the user's local files: PDF resumes and plain-text
// knowledge snippets.
package documents

// Resume is one loaded resume.
type Resume struct {
	// Path is absolute.
	Path string
	Text string
	// Ordinal is the dense position of the resume within its set.
	Ordinal int
}

// ResumeSet is an ordered, immutable collection of resumes. Ordinals are
// assigned 0..N-1 in load order.
type ResumeSet struct {
	resumes []Resume
}

// NewResumeSet builds a set from resumes, reassigning ordinals by position.
func NewResumeSet(resumes ...Resume) *ResumeSet {
	set := &ResumeSet{resumes: make([]Resume, len(resumes))}
	for i, r := range resumes {
		r.Ordinal = i
		set.resumes[i] = r
	}
	return set
}

// Len returns the number of resumes. A nil set is empty.
func (s *ResumeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.resumes)
}

// Lookup returns the resume with the given ordinal.
func (s *ResumeSet) Lookup(ordinal int) (Resume, bool) {
	if ordinal < 0 || ordinal >= s.Len() {
		return Resume{}, false
	}
	return s.resumes[ordinal], true
}

// At returns the resume with the given ordinal and panics when out of range.
func (s *ResumeSet) At(ordinal int) Resume {
	return s.resumes[ordinal]
}

// First returns the resume with ordinal 0.
func (s *ResumeSet) First() (Resume, bool) {
	return s.Lookup(0)
}

// All returns a copy of the resumes in ordinal order.
func (s *ResumeSet) All() []Resume {
	if s == nil {
		return nil
	}
	return append([]Resume(nil), s.resumes...)
}

// Paths returns resume paths in ordinal order.
func (s *ResumeSet) Paths() []string {
	paths := make([]string, 0, s.Len())
	for _, r := range s.All() {
		paths = append(paths, r.Path)
	}
	return paths
}
