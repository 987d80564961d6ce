package debug

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/certusone/wormhole/portal/pkg/tokenbridge"
	"github.com/spf13/cobra"
	"github.com/wormhole-foundation/wormhole/sdk/vaa"
)

var decodeVaaCmd = &cobra.Command{
	Use:   "decode-vaa [DATA]",
	Short: "Decode a hex-encoded VAA and its token bridge payload",
	Run: func(cmd *cobra.Command, args []string) {
		for _, arg := range args {
			b, err := decodeHex(arg)
			if err != nil {
				log.Fatal(err)
			}

			v, err := vaa.Unmarshal(b)
			if err != nil {
				log.Fatal(err)
			}

			fmt.Print(describeVAA(v))
		}
	},
}

var decodePayloadCmd = &cobra.Command{
	Use:   "decode-payload [DATA]",
	Short: "Decode a hex-encoded token bridge payload",
	Run: func(cmd *cobra.Command, args []string) {
		for _, arg := range args {
			b, err := decodeHex(arg)
			if err != nil {
				log.Fatal(err)
			}

			s, err := describePayload(b)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Print(s)
		}
	},
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func describeVAA(v *vaa.VAA) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Message ID:         %s\n", v.MessageID())
	fmt.Fprintf(&sb, "Digest:             %s\n", v.HexDigest())
	fmt.Fprintf(&sb, "Version:            %d\n", v.Version)
	fmt.Fprintf(&sb, "Guardian set index: %d\n", v.GuardianSetIndex)
	fmt.Fprintf(&sb, "Signatures:         %d\n", len(v.Signatures))
	fmt.Fprintf(&sb, "Timestamp:          %s\n", v.Timestamp.UTC())
	fmt.Fprintf(&sb, "Nonce:              %d\n", v.Nonce)
	fmt.Fprintf(&sb, "Consistency level:  %d\n", v.ConsistencyLevel)
	if s, err := describePayload(v.Payload); err == nil {
		sb.WriteString(s)
	} else {
		fmt.Fprintf(&sb, "Payload:            %s (%v)\n", hex.EncodeToString(v.Payload), err)
	}
	return sb.String()
}

// describePayload renders governance actions and transfer bridge payloads.
func describePayload(payload []byte) (string, error) {
	var sb strings.Builder
	if tokenbridge.IsGovernance(payload) {
		g, err := tokenbridge.DecodeGovernance(payload)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "Governance action:  %d\n", g.Action)
		fmt.Fprintf(&sb, "Target chain:       %s\n", g.TargetChain)
		switch g.Action {
		case vaa.ActionRegisterChain:
			r, err := tokenbridge.DecodeRegisterChain(payload)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "Register chain:     %s\n", r.EmitterChain)
			fmt.Fprintf(&sb, "Emitter:            %s\n", r.EmitterAddress)
		case vaa.ActionUpgradeTokenBridge:
			u, err := tokenbridge.DecodeUpgradeContract(payload)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "Upgrade code hash:  %s\n", hex.EncodeToString(u.CodeHash[:]))
		}
		return sb.String(), nil
	}

	if len(payload) == 0 {
		return "", tokenbridge.ErrPayloadTooShort
	}
	switch id := tokenbridge.PayloadID(payload[0]); id {
	case tokenbridge.PayloadTransfer, tokenbridge.PayloadTransferWithPayload:
		t, err := tokenbridge.DecodeTransfer(payload)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "Payload:            %s\n", id)
		fmt.Fprintf(&sb, "Amount:             %s\n", t.Amount.Dec())
		fmt.Fprintf(&sb, "Token:              %s on %s\n", t.TokenAddress, t.TokenChain)
		fmt.Fprintf(&sb, "Recipient:          %s on %s\n", t.Recipient, t.RecipientChain)
		if id == tokenbridge.PayloadTransfer {
			fmt.Fprintf(&sb, "Fee:                %s\n", t.Fee.Dec())
		} else {
			fmt.Fprintf(&sb, "From:               %s\n", t.FromAddress)
			fmt.Fprintf(&sb, "Contract payload:   %s\n", hex.EncodeToString(t.Payload))
		}
		if t.Truncated {
			sb.WriteString("Amount exceeds 128 bits\n")
		}
	case tokenbridge.PayloadAssetMeta:
		m, err := tokenbridge.DecodeAssetMeta(payload)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "Payload:            %s\n", id)
		fmt.Fprintf(&sb, "Token:              %s on %s\n", m.TokenAddress, m.TokenChain)
		fmt.Fprintf(&sb, "Decimals:           %d\n", m.Decimals)
		fmt.Fprintf(&sb, "Symbol:             %s\n", m.SymbolString())
		fmt.Fprintf(&sb, "Name:               %s\n", m.NameString())
	default:
		return "", fmt.Errorf("%w: %s", tokenbridge.ErrWrongPayloadID, id)
	}
	return sb.String(), nil
}
