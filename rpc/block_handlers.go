package rpc

import (
	"vchain/native/vblock"
)

type createBlockParams struct {
	GasLimit   *inputParam `json:"gasLimit"`
	Validators []string    `json:"validators,omitempty"`
}

type attestationParams struct {
	Seq         uint64   `json:"seq"`
	ContentHash string   `json:"contentHash"`
	Signatures  []string `json:"signatures"`
}

type submitTxParams struct {
	To      string      `json:"to"`
	Value   *inputParam `json:"value"`
	Payload string      `json:"payload,omitempty"`
}

type includeTxParams struct {
	TxSeq    uint64      `json:"txSeq"`
	BlockSeq uint64      `json:"blockSeq"`
	GasUsed  *inputParam `json:"gasUsed"`
}

type txBlockParams struct {
	TxSeq    uint64 `json:"txSeq"`
	BlockSeq uint64 `json:"blockSeq"`
}

type blockResult struct {
	Seq          uint64   `json:"seq"`
	EncTimestamp string   `json:"encTimestamp"`
	EncGasLimit  string   `json:"encGasLimit"`
	Validators   []string `json:"validators"`
	Finalized    bool     `json:"finalized"`
	EncFinalized string   `json:"encFinalized"`
	ContentHash  string   `json:"contentHash"`
	CreatedAt    uint64   `json:"createdAt"`
	Proposer     string   `json:"proposer"`
	AttestedBy   []string `json:"attestedBy,omitempty"`
	TxSeqs       []uint64 `json:"txSeqs"`
}

func blockView(b *vblock.Block) blockResult {
	return blockResult{
		Seq:          b.Seq,
		EncTimestamp: b.EncTimestamp.Hex(),
		EncGasLimit:  b.EncGasLimit.Hex(),
		Validators:   addressStrings(b.Validators),
		Finalized:    b.Finalized,
		EncFinalized: b.EncFinalized.Hex(),
		ContentHash:  hexBytes(b.ContentHash[:]),
		CreatedAt:    b.CreatedAt,
		Proposer:     b.Proposer.String(),
		AttestedBy:   addressStrings(b.AttestedBy),
		TxSeqs:       append([]uint64{}, b.TxSeqs...),
	}
}

type transactionResult struct {
	Seq             uint64 `json:"seq"`
	From            string `json:"from"`
	To              string `json:"to"`
	EncValue        string `json:"encValue"`
	EncGasUsed      string `json:"encGasUsed"`
	Payload         string `json:"payload"`
	PayloadHash     string `json:"payloadHash"`
	IncludedInBlock uint64 `json:"includedInBlock"`
	EncBlock        string `json:"encBlock"`
	EncIncluded     string `json:"encIncluded"`
	Included        bool   `json:"included"`
	SubmittedAt     uint64 `json:"submittedAt"`
}

func transactionView(tx *vblock.Transaction) transactionResult {
	return transactionResult{
		Seq:             tx.Seq,
		From:            tx.From.String(),
		To:              tx.To.String(),
		EncValue:        tx.EncValue.Hex(),
		EncGasUsed:      tx.EncGasUsed.Hex(),
		Payload:         hexBytes(tx.Payload),
		PayloadHash:     hexBytes(tx.PayloadHash[:]),
		IncludedInBlock: tx.IncludedInBlock,
		EncBlock:        tx.EncBlock.Hex(),
		EncIncluded:     tx.EncIncluded.Hex(),
		Included:        tx.Included,
		SubmittedAt:     tx.SubmittedAt,
	}
}

type rootResult struct {
	Root string `json:"root"`
}

type countResult struct {
	Count uint64 `json:"count"`
}

type proofResult struct {
	Root  string   `json:"root"`
	Leaf  string   `json:"leaf"`
	Index uint64   `json:"index"`
	Nodes []string `json:"nodes"`
}

func (s *Server) registerBlocks() {
	s.write("vblock_createBlock", func(c call) (interface{}, error) {
		var p createBlockParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		gas, err := p.GasLimit.decode("gasLimit")
		if err != nil {
			return nil, err
		}
		subset, err := parseAddresses("validator", p.Validators)
		if err != nil {
			return nil, err
		}
		seq, err := s.chain.CreateBlock(c.ctx, c.caller, gas, subset)
		if err != nil {
			return nil, err
		}
		return seqResult{Seq: seq}, nil
	})
	s.write("vblock_finalizeBlock", func(c call) (interface{}, error) {
		var p seqParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.FinalizeBlock(c.ctx, c.caller, p.Seq)
	})
	s.write("vblock_finalizeWithAttestation", func(c call) (interface{}, error) {
		var p attestationParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		hash, err := parseHash("contentHash", p.ContentHash)
		if err != nil {
			return nil, err
		}
		sigs := make([][]byte, 0, len(p.Signatures))
		for _, raw := range p.Signatures {
			sig, err := parseBytes("signature", raw)
			if err != nil {
				return nil, err
			}
			sigs = append(sigs, sig)
		}
		return done, s.chain.FinalizeBlockWithAttestation(c.ctx, c.caller, p.Seq, hash, sigs)
	})
	s.write("vblock_submitTransaction", func(c call) (interface{}, error) {
		var p submitTxParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		to, err := parseAddress("to", p.To)
		if err != nil {
			return nil, err
		}
		value, err := p.Value.decode("value")
		if err != nil {
			return nil, err
		}
		payload, err := parseBytes("payload", p.Payload)
		if err != nil {
			return nil, err
		}
		seq, err := s.chain.SubmitTransaction(c.ctx, c.caller, to, value, payload)
		if err != nil {
			return nil, err
		}
		return seqResult{Seq: seq}, nil
	})
	s.write("vblock_includeTransaction", func(c call) (interface{}, error) {
		var p includeTxParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		gas, err := p.GasUsed.decode("gasUsed")
		if err != nil {
			return nil, err
		}
		return done, s.chain.IncludeTransaction(c.ctx, c.caller, p.TxSeq, p.BlockSeq, gas)
	})
	s.write("vblock_verifyTransaction", func(c call) (interface{}, error) {
		var p txBlockParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		h, err := s.chain.VerifyTransaction(c.ctx, c.caller, p.TxSeq, p.BlockSeq)
		if err != nil {
			return nil, err
		}
		return handleView(h), nil
	})
	s.read("vblock_getBlock", func(c call) (interface{}, error) {
		var p seqParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		b, err := s.chain.Block(p.Seq)
		if err != nil {
			return nil, err
		}
		return blockView(b), nil
	})
	s.read("vblock_getTransaction", func(c call) (interface{}, error) {
		var p seqParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		tx, err := s.chain.Transaction(p.Seq)
		if err != nil {
			return nil, err
		}
		return transactionView(tx), nil
	})
	s.read("vblock_transactionCount", func(c call) (interface{}, error) {
		n, err := s.chain.TransactionCount()
		if err != nil {
			return nil, err
		}
		return countResult{Count: n}, nil
	})
	s.read("vblock_transactionRoot", func(c call) (interface{}, error) {
		var p seqParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		root, err := s.chain.TransactionRoot(p.Seq)
		if err != nil {
			return nil, err
		}
		return rootResult{Root: hexBytes(root[:])}, nil
	})
	s.read("vblock_transactionProof", func(c call) (interface{}, error) {
		var p txBlockParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		root, err := s.chain.TransactionRoot(p.BlockSeq)
		if err != nil {
			return nil, err
		}
		proof, err := s.chain.TransactionProof(p.TxSeq, p.BlockSeq)
		if err != nil {
			return nil, err
		}
		nodes := make([]string, 0, len(proof.Nodes))
		for _, n := range proof.Nodes {
			nodes = append(nodes, hexBytes(n))
		}
		return proofResult{Root: hexBytes(root[:]), Leaf: hexBytes(proof.Leaf[:]), Index: proof.Index, Nodes: nodes}, nil
	})
	s.read("chain_validators", func(c call) (interface{}, error) {
		members, err := s.chain.Validators()
		if err != nil {
			return nil, err
		}
		return addressStrings(members), nil
	})
}
