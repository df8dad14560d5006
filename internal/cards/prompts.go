// Package cards holds the fixed prompts for study-material extraction and
// turns the model's free-text answers into structured records.
package cards

// SystemPrompt is the strict-extraction persona sent as the system instruction on every generation.
const SystemPrompt = `You are a meticulous study-material extractor.
Rules:
- Use only information that appears in the provided document or text. Never invent facts, examples or definitions.
- Do not paraphrase. Copy terms and their explanations as they are written, trimming only surrounding filler.
- Cover the whole document from beginning to end. Do not stop early and do not skip sections.
- Answer with a single JSON array and nothing else. No markdown fences, no commentary.`

// CardsInstruction asks for flashcards in the {term, definition} schema.
const CardsInstruction = `Extract every key term and its definition from the material.
Return a JSON array where each element has exactly two string fields:
[{"term": "...", "definition": "..."}]`

// ReviewerInstruction asks for reviewer sections in the {title, content} schema.
const ReviewerInstruction = `Build a reviewer from the material, one entry per topic in the order the topics appear.
Return a JSON array where each element has exactly two string fields:
[{"title": "...", "content": "..."}]`
