// internal/catalog/seed.go
package catalog

// sampleBooks is the starter collection offered on an empty catalog.
var sampleBooks = []BookInput{
	{
		Title:         "The Great Gatsby",
		Author:        "F. Scott Fitzgerald",
		ISBN:          "9780743273565",
		Category:      "fiction",
		Description:   "A classic American novel about the Jazz Age and the American Dream.",
		PublishedYear: 1925,
		Condition:     "Good",
		Location:      "Fiction Section A1",
	},
	{
		Title:         "To Kill a Mockingbird",
		Author:        "Harper Lee",
		ISBN:          "9780061120084",
		Category:      "fiction",
		Description:   "A gripping tale of racial injustice and childhood innocence.",
		PublishedYear: 1960,
		Condition:     "Excellent",
		Location:      "Fiction Section A2",
	},
	{
		Title:         "1984",
		Author:        "George Orwell",
		ISBN:          "9780451524935",
		Category:      "fiction",
		Description:   "A dystopian social science fiction novel about totalitarian control.",
		PublishedYear: 1949,
		Condition:     "Good",
		Location:      "Fiction Section A3",
	},
	{
		Title:         "Introduction to Algorithms",
		Author:        "Thomas H. Cormen",
		ISBN:          "9780262033848",
		Category:      "academic",
		Description:   "Comprehensive textbook on computer algorithms and data structures.",
		PublishedYear: 2009,
		Condition:     "Excellent",
		Location:      "Computer Science Section B1",
	},
	{
		Title:         "Clean Code",
		Author:        "Robert C. Martin",
		ISBN:          "9780132350884",
		Category:      "academic",
		Description:   "A handbook of agile software craftsmanship.",
		PublishedYear: 2008,
		Condition:     "Good",
		Location:      "Computer Science Section B2",
	},
	{
		Title:         "Sapiens: A Brief History of Humankind",
		Author:        "Yuval Noah Harari",
		ISBN:          "9780062316097",
		Category:      "non-fiction",
		Description:   "An exploration of how Homo sapiens came to dominate the world.",
		PublishedYear: 2014,
		Condition:     "Excellent",
		Location:      "History Section C1",
	},
	{
		Title:         "The Selfish Gene",
		Author:        "Richard Dawkins",
		ISBN:          "9780192860927",
		Category:      "non-fiction",
		Description:   "A book on evolution that introduced the concept of the 'selfish gene'.",
		PublishedYear: 1976,
		Condition:     "Good",
		Location:      "Science Section D1",
	},
	{
		Title:         "Oxford English Dictionary",
		Author:        "Oxford University Press",
		ISBN:          "9780198611868",
		Category:      "reference",
		Description:   "The definitive record of the English language.",
		PublishedYear: 2020,
		Condition:     "Excellent",
		Location:      "Reference Section E1",
	},
}
