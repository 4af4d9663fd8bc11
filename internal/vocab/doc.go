// Package vocab exports token vocabularies in the runtime's vocabulary.json layout: a JSON
// list of token strings where the position is the token id.
//
// Sources:
//   - Hugging Face tokenizer.json (BPE, WordPiece and Unigram models, plus added tokens)
//   - tiktoken encodings (cl100k_base, o200k_base, ...), with raw token bytes rendered
//     in the byte-level alphabet used by GPT-2 style tokenizers
//
// Example:
//
//	v, err := vocab.FromHuggingFace("path/to/model/tokenizer.json")
//	if err != nil {
//	    return err
//	}
//	err = v.Save("out/vocabulary.json")
package vocab
