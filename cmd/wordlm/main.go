package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klauspost/cpuid/v2"
	"github.com/openfluke/loom/gpu"

	"github.com/janmbuys/word-language-model/batch"
	"github.com/janmbuys/word-language-model/corpus"
	"github.com/janmbuys/word-language-model/model"
	"github.com/janmbuys/word-language-model/train"
)

var (
	flagData     = flag.String("data", "./data/wikitext-2", "location of the data corpus")
	flagModel    = flag.String("model", "FeedForward", "type of net (FeedForward, FeedForward2, RNN_TANH, LSTM, Transformer)")
	flagOrder    = flag.Int("norder", 4, "context size in feed-forward models; number of heads in the transformer")
	flagEmsize   = flag.Int("emsize", 256, "size of word embeddings")
	flagNhid     = flag.Int("nhid", 256, "number of hidden units per layer")
	flagNlayers  = flag.Int("nlayers", 2, "number of layers")
	flagDropout  = flag.Float64("dropout", 0.3, "dropout applied to layers (0 = no dropout)")
	flagNotTied  = flag.Bool("not-tied", false, "do not tie the word embedding and softmax weights")
	flagPadVocab = flag.Bool("pad-vocab", false, "add new padding symbols to the vocab for each n-gram context position")

	flagOptim = flag.String("optim", "adamw", "adamw|sgd")
	flagLR    = flag.Float64("lr", 1e-3, "initial learning rate")
	flagClip  = flag.Float64("clip", 0.25, "gradient clipping")
	flagDecay = flag.Float64("lr-decay-rate", 4.0, "learning rate decay on validation plateau")
	flagWD    = flag.Float64("weight-decay", 1e-2, "l2 weight decay for adamw")

	flagEpochs       = flag.Int("epochs", 100, "upper epoch limit")
	flagBatch        = flag.Int("batch-size", 128, "batch size")
	flagEvalBatch    = flag.Int("eval-batch-size", 128, "evaluation batch size")
	flagBPTT         = flag.Int("bptt", 64, "sequence length")
	flagPatience     = flag.Int("patience", 8, "patience for learning rate decay based on eval interval")
	flagEvalInterval = flag.Int("train-eval-interval", 4, "how many times per epoch to evaluate")

	flagSeed        = flag.Int64("seed", 1111, "random seed")
	flagGPU         = flag.Bool("gpu", false, "mount the model weights on the GPU")
	flagAdapter     = flag.String("adapter", "", "substring to select a specific GPU adapter (e.g. 'NVIDIA', 'Intel')")
	flagLogInterval = flag.Int("log-interval", 0, "report interval")
	flagSave        = flag.String("save", "model.json", "path to save the best model")
	flagExport      = flag.String("export", "", "path to export the final weights in safetensors format")
	flagHistory     = flag.String("history", "", "path to save the run history as JSON")
	flagDryRun      = flag.Bool("dry-run", false, "verify the code and the model")
)

func main() {
	flag.Parse()
	rand.Seed(*flagSeed)

	fmt.Println("╔════════════════════════════════════════════════════════════════╗")
	fmt.Println("║   Word-Level Language Model Training Harness                  ║")
	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	fmt.Printf("CPU: %s (%d threads, AVX2=%v)\n", cpuid.CPU.BrandName, cpuid.CPU.LogicalCores, cpuid.CPU.Has(cpuid.AVX2))

	fmt.Printf("\n[1/4] Loading corpus from %s...\n", *flagData)
	c, err := corpus.Load(*flagData)
	if err != nil {
		log.Fatalf("Failed to load corpus: %v", err)
	}
	padID, err := c.PadID()
	if err != nil {
		log.Fatalf("Corpus has no pad token: %v", err)
	}
	tok, err := c.Tokenizer()
	if err != nil {
		log.Fatalf("Failed to build tokenizer: %v", err)
	}
	if word, ok := tok.IDToToken(padID); !ok || word != "<eos>" {
		log.Fatalf("Tokenizer disagrees with dictionary about the pad token")
	}
	fmt.Printf("      Vocab: %d words | train/valid/test: %d/%d/%d tokens\n",
		c.Dict.Len(), len(c.Train), len(c.Valid), len(c.Test))

	preview := make([]string, 0, 12)
	for _, id := range c.Train[:min(12, len(c.Train))] {
		word, _ := tok.IDToToken(id)
		preview = append(preview, word)
	}
	fmt.Printf("      Train preview: %q\n", strings.Join(preview, " "))

	ntokens := c.Dict.Len()
	if *flagPadVocab {
		// One reserved id per n-gram context position, appended to the vocab.
		ntokens += *flagOrder
	}

	trainData, err := batch.Batchify(c.Train, *flagBatch)
	if err != nil {
		log.Fatalf("Failed to batch training data: %v", err)
	}
	valData, err := batch.Batchify(c.Valid, *flagEvalBatch)
	if err != nil {
		log.Fatalf("Failed to batch validation data: %v", err)
	}
	testData, err := batch.Batchify(c.Test, *flagEvalBatch)
	if err != nil {
		log.Fatalf("Failed to batch test data: %v", err)
	}

	fmt.Printf("\n[2/4] Building %s model (ntokens=%d)...\n", *flagModel, ntokens)
	modelCfg := model.Config{
		Family:    *flagModel,
		NTokens:   ntokens,
		Order:     *flagOrder,
		EmbedSize: *flagEmsize,
		Hidden:    *flagNhid,
		Layers:    *flagNlayers,
		Dropout:   *flagDropout,
		BPTT:      *flagBPTT,
		PadID:     padID,
		Tied:      !*flagNotTied,
	}
	m, err := model.New(modelCfg)
	if err != nil {
		log.Fatalf("Failed to build model: %v", err)
	}
	if *flagDropout > 0 {
		fmt.Println("      Note: dropout is recorded but inert; loom layers carry no dropout")
	}
	if modelCfg.Tied {
		fmt.Println("      Note: loom cannot share embedding and softmax weights; training untied")
	}

	if *flagGPU {
		if *flagAdapter != "" {
			gpu.SetAdapterPreference(*flagAdapter)
		}
		net := m.Net()
		net.GPU = true
		if err := net.WeightsToGPU(); err != nil {
			fmt.Printf("      GPU not available (%v), running on CPU\n", err)
			net.GPU = false
		} else {
			fmt.Println("      Weights mounted on GPU")
			defer net.ReleaseGPUWeights()
		}
	}

	prefix := batch.PadPrefix(*flagOrder, ntokens, padID, *flagPadVocab)
	trainCfg := train.Config{
		Optimizer:    *flagOptim,
		LR:           *flagLR,
		Clip:         *flagClip,
		DecayRate:    *flagDecay,
		WeightDecay:  *flagWD,
		Epochs:       *flagEpochs,
		BPTT:         *flagBPTT,
		EvalInterval: *flagEvalInterval,
		Patience:     *flagPatience,
		LogInterval:  *flagLogInterval,
		SavePath:     *flagSave,
		DryRun:       *flagDryRun,
		PadPrefix:    prefix,
	}
	trainer, err := train.NewTrainer(m, trainData, valData, trainCfg)
	if err != nil {
		log.Fatalf("Bad training configuration: %v", err)
	}

	// Ctrl+C stops the epoch loop cleanly; the run continues to final
	// evaluation on the last saved checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n[3/4] Training for up to %d epochs (%s, lr=%g)...\n", *flagEpochs, *flagOptim, *flagLR)
	if err := trainer.Run(ctx); err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	stop()

	// Load back the best saved model for final scoring.
	best := m
	if trainer.CheckpointSaved() {
		best, err = model.LoadCheckpoint(*flagSave, modelCfg)
		if err != nil {
			log.Fatalf("Failed to reload best checkpoint: %v", err)
		}
	} else {
		fmt.Println("No checkpoint was saved; scoring the in-memory model")
	}

	fmt.Println("\n[4/4] Final test evaluation...")
	testLoss := train.Evaluate(best, testData, *flagBPTT, prefix)
	fmt.Println(strings.Repeat("=", 89))
	fmt.Printf("| End of training | test loss %5.2f | test ppl %8.2f\n", testLoss, math.Exp(testLoss))
	fmt.Println(strings.Repeat("=", 89))

	summary := trainer.Summary()
	summary.TestLoss = testLoss
	summary.TestPPL = math.Exp(testLoss)

	if *flagExport != "" {
		if err := model.Export(best, *flagExport); err != nil {
			log.Fatalf("Failed to export model: %v", err)
		}
		fmt.Printf("Exported weights to %s\n", *flagExport)
	}
	if *flagHistory != "" {
		if err := summary.WriteJSON(*flagHistory); err != nil {
			log.Fatalf("Failed to write history: %v", err)
		}
		fmt.Printf("Run %s history saved to %s\n", summary.RunID, *flagHistory)
	}
}
