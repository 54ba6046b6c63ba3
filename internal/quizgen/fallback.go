package quizgen

// Fallback returns the static question set used when generation fails.
// The questions cover generic policy-document themes so they remain
// answerable for any document in the catalog.
func Fallback() []Question {
	return []Question{
		{
			ID:       "q1",
			Question: "What is the main purpose of this document?",
			Options: []string{
				"To provide guidelines",
				"To establish rules",
				"To inform about policies",
				"All of the above",
			},
			CorrectAnswer: "All of the above",
		},
		{
			ID:       "q2",
			Question: "Who is required to follow these guidelines?",
			Options: []string{
				"Only new employees",
				"Only management",
				"All employees",
				"External contractors only",
			},
			CorrectAnswer: "All employees",
		},
		{
			ID:       "q3",
			Question: "When do these policies take effect?",
			Options: []string{
				"Immediately upon acknowledgment",
				"After 30 days",
				"At the next review cycle",
				"Only for new projects",
			},
			CorrectAnswer: "Immediately upon acknowledgment",
		},
	}
}
