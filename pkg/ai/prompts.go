package ai

const ExtractPrompt = `
# Task Context
You are an assistant that builds a knowledge graph from research papers. You extract named entities and the relationships between them.

# Background Data
%s

# Detailed Task Description & Rules
- Extract entities of these types only:
  * concept: scientific ideas, phenomena, theories, molecules, diseases
  * methodology: methods, techniques, algorithms, models, frameworks, protocols
  * organization: universities, companies, institutes, funding bodies
  * person: individual people such as authors or contacts
  * location: cities, countries, regions, addresses
- Use the exact surface text from the paper for each entity.
- Extract relationships only between entities you listed.
- Use short snake_case relationship names (e.g. "uses", "improves", "authored_by", "located_at", "affiliated_with", "contact_info").
- Give each entity and relationship a confidence between 0 and 1.

# Immediate Task Description or Request
Return every entity and relationship you can find in the text above.

# Output Formatting
Return a JSON object with this structure:
{
  "entities": [{"text": "<entity>", "type": "<type>", "confidence": 0.9}],
  "relations": [{"source": "<entity text>", "target": "<entity text>", "relationship": "<name>", "confidence": 0.8}]
}
`

const QueryEntitiesPrompt = `
# Task Context
You select the key entities in a research question so they can be looked up in a knowledge graph.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- Return at most 5 entities.
- Prefer specific concepts, methods, organizations and people over generic words.
- Use the surface form from the question.

# Output Formatting
Return a JSON object with this structure:
{
  "entities": ["<entity1>", "<entity2>"]
}
`

const MetadataPrompt = `
# Task Context
You read the first page of a research paper and extract its bibliographic metadata.

# Background Data
File name: %s

Text:
%s

# Detailed Task Description & Rules
- Use an empty string or an empty list when a field is not present.
- Dates use YYYY-MM-DD, YYYY-MM or YYYY.
- The abstract is copied verbatim if the paper has one.

# Output Formatting
Return a JSON object with this structure:
{
  "title": "<title>",
  "authors": ["<author>"],
  "publication_date": "<date>",
  "journal": "<journal or conference>",
  "abstract": "<abstract>"
}
`

const FollowUpPrompt = `
Based on the following query and answer, suggest 3 relevant follow-up questions.

QUERY: %s

ANSWER: %s

Please return the questions as a JSON object with a "questions" array of strings.
`

// AnswerPrompt is filled with the persona, the question, the paper context,
// the graph context and the instruction, in that order.
const AnswerPrompt = `
%s

QUESTION: %s

RELEVANT RESEARCH PAPERS:
%s

KNOWLEDGE GRAPH CONTEXT:
%s

%s

ANSWER:
`

// AnswerTemplate is the persona and instruction used for one kind of question.
type AnswerTemplate struct {
	Persona     string
	Instruction string
}

var AnswerTemplates = map[string]AnswerTemplate{
	"factual": {
		Persona: "You are a research assistant helping a researcher find factual information.",
		Instruction: "Please provide a concise, factual answer to the question based on the research papers and knowledge graph.\n" +
			"Include specific details and cite the relevant papers using their titles.\n" +
			"If the information isn't available in the provided context, say so clearly.",
	},
	"relational": {
		Persona: "You are a research assistant helping a researcher understand relationships between concepts.",
		Instruction: "Please explain the relationships between concepts mentioned in the question.\n" +
			"Use the research papers and knowledge graph to identify how these concepts are connected.\n" +
			"Include specific examples and cite the relevant papers using their titles.",
	},
	"comparative": {
		Persona: "You are a research assistant helping a researcher compare different approaches or concepts.",
		Instruction: "Please provide a comparison of the concepts or approaches mentioned in the question.\n" +
			"Highlight similarities, differences, advantages, and disadvantages based on the research papers.\n" +
			"Cite the relevant papers using their titles.",
	},
	"summarization": {
		Persona: "You are a research assistant helping a researcher summarize information about a topic.",
		Instruction: "Please provide a comprehensive summary of the topic based on the research papers.\n" +
			"Organize the information logically and highlight key points.\n" +
			"Cite the relevant papers using their titles.",
	},
	"recommendation": {
		Persona: "You are a research assistant helping a researcher find relevant papers or approaches.",
		Instruction: "Please provide recommendations based on the question and the available research.\n" +
			"Suggest specific papers, approaches, or next steps for the researcher.\n" +
			"Explain why each recommendation is relevant and cite the papers using their titles.",
	},
}

var GenericAnswerTemplate = AnswerTemplate{
	Persona: "You are a research assistant helping a researcher with their question.",
	Instruction: "Please provide a helpful answer to the question based on the research papers and knowledge graph.\n" +
		"Be specific and cite the relevant papers using their titles.",
}
