package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfluke/loom/tokenizer"
	"github.com/pkg/errors"
)

const eosToken = "<eos>"

// Dictionary maps words to dense integer ids in insertion order.
type Dictionary struct {
	word2idx map[string]int
	idx2word []string
}

func NewDictionary() *Dictionary {
	return &Dictionary{word2idx: make(map[string]int)}
}

// Add returns the id of word, assigning the next free id on first sight.
func (d *Dictionary) Add(word string) int {
	if id, ok := d.word2idx[word]; ok {
		return id
	}
	id := len(d.idx2word)
	d.word2idx[word] = id
	d.idx2word = append(d.idx2word, word)
	return id
}

// ID looks a word up without assigning.
func (d *Dictionary) ID(word string) (int, bool) {
	id, ok := d.word2idx[word]
	return id, ok
}

// Word returns the word for id, or the empty string when out of range.
func (d *Dictionary) Word(id int) string {
	if id < 0 || id >= len(d.idx2word) {
		return ""
	}
	return d.idx2word[id]
}

func (d *Dictionary) Len() int { return len(d.idx2word) }

// Corpus holds the shared vocabulary and the three integer-encoded splits.
// Streams are immutable once loaded.
type Corpus struct {
	Dict  *Dictionary
	Train []int
	Valid []int
	Test  []int
}

// Load reads train.txt, valid.txt and test.txt from dir. Every line is
// terminated with a synthetic <eos> token, and the vocabulary is shared
// across all three splits in encounter order.
func Load(dir string) (*Corpus, error) {
	c := &Corpus{Dict: NewDictionary()}
	for _, split := range []struct {
		name string
		dst  *[]int
	}{
		{"train.txt", &c.Train},
		{"valid.txt", &c.Valid},
		{"test.txt", &c.Test},
	} {
		stream, err := c.encodeFile(filepath.Join(dir, split.name))
		if err != nil {
			return nil, errors.Wrapf(err, "corpus: load %s", split.name)
		}
		if len(stream) == 0 {
			return nil, errors.Errorf("corpus: split %s is empty", split.name)
		}
		*split.dst = stream
	}
	return c, nil
}

func (c *Corpus) encodeFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var stream []int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		for _, word := range strings.Fields(sc.Text()) {
			stream = append(stream, c.Dict.Add(word))
		}
		stream = append(stream, c.Dict.Add(eosToken))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return stream, nil
}

// PadID returns the reserved pad id, the <eos> token's id.
func (c *Corpus) PadID() (int, error) {
	id, ok := c.Dict.ID(eosToken)
	if !ok {
		return 0, errors.New("corpus: no <eos> token in vocabulary")
	}
	return id, nil
}

// Tokenizer builds a loom word-level tokenizer over the dictionary, used for
// decoding ids back to words in reports.
func (c *Corpus) Tokenizer() (*tokenizer.Tokenizer, error) {
	vocab, err := json.Marshal(c.Dict.word2idx)
	if err != nil {
		return nil, errors.Wrap(err, "corpus: marshal vocab")
	}
	config := fmt.Sprintf(`{"model":{"type":"BPE","vocab":%s,"merges":[]}}`, vocab)
	tok, err := tokenizer.LoadFromBytes([]byte(config))
	if err != nil {
		return nil, errors.Wrap(err, "corpus: build tokenizer")
	}
	return tok, nil
}

// Decode renders a token id slice as a space-joined string of words.
func (c *Corpus) Decode(ids []int) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = c.Dict.Word(id)
	}
	return strings.Join(words, " ")
}
