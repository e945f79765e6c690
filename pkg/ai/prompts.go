package ai

const ExtractEntitiesPrompt = `
# Task Context
You are an assistant that identifies the named things a question refers to, so they can be looked up in a knowledge graph.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- List every concrete entity the question mentions: organizations, people, places, documents, products, contracts, identifiers.
- Copy each mention exactly as written in the question. Do not translate, expand or normalize it.
- Keep quoted strings as a single mention without the quotes.
- Do not list generic nouns ("invoice", "company", "document") unless they are part of a proper name.
- Do not invent entities that are not in the question.
- If the question mentions no entity, return an empty list.

# Output Formatting
Return a JSON object with this structure:
{
  "entities": ["<mention>", "<mention>"]
}
`

const DecomposePrompt = `
# Task Context
You split a complex question over a document collection into smaller, self-contained sub-questions that can each be answered from a knowledge graph.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- Every constraint of the original question must be preserved: entity names, dates, amounts, conditions and comparisons.
- Do not add new scope. A sub-question must never ask about something the original question does not ask about.
- Each sub-question must be answerable on its own. Replace pronouns with the entity they refer to.
- Use between 2 and %d sub-questions. If the question cannot be split, return it unchanged as the only sub-question.
- Write the sub-questions in the language of the original question.

# Output Formatting
Return a JSON object with this structure:
{
  "sub_questions": ["<sub-question>", "<sub-question>"]
}
`

const ComplexityPrompt = `
# Task Context
You rate how much reasoning a question over a document collection needs.

# Background Data
Question: "%s"

# Detailed Task Description & Rules
- 0.0 means a single fact lookup about one named thing.
- 0.5 means combining facts about a few related things.
- 1.0 means comparing many things or summarizing themes across the whole collection.
- Rate only the question. Do not try to answer it.

# Output Formatting
Return a JSON object with this structure:
{
  "complexity": <number between 0 and 1>
}
`

const SynthesisPrompt = `
# Task Context
You are a helpful assistant that answers questions using only the numbered sources below, which were retrieved from a knowledge graph.

# Background Data
Each source starts with its citation marker, followed by the document it comes from:

[[n]] <document> § <section> (p. <page>)
<text>

## Sources
%s

# Detailed Task Description & Rules
- Do not add any information that is not present in the sources.
- Every factual statement must end with one or more citation markers in the format [[n]], using the numbers of the sources above.
- A statement may have multiple sources: [[1]] [[3]].
- Never put anything other than a source number inside the brackets.
- If sources contradict each other, present all versions with their citations and say that they are contradictory.
- If the sources do not contain the answer, say so plainly instead of guessing.

# Immediate Task Description or Request
Question: %s

# Output Formatting
- %s
- Format your answer in Markdown.
- Always respond in the same language as the question.
`

const (
	concisePrompt  = "Answer in at most three sentences. Return only the direct answer."
	detailedPrompt = "Give a complete answer that covers every relevant detail in the sources, grouped into short paragraphs."
	bulletedPrompt = "Answer as a bullet list with one fact per bullet."
)
