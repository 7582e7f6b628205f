package dydx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire-level codec for the handful of chain messages this system touches.
// There is no published Go package with the generated protos, so both the
// order submission path and the block scanner work directly against the wire
// format. Field numbers follow dydxprotocol.clob and cosmos.tx.v1beta1.

const (
	msgPlaceOrderTypeURL = "/dydxprotocol.clob.MsgPlaceOrder"
	secp256k1PubKeyURL   = "/cosmos.crypto.secp256k1.PubKey"

	signModeDirect = 1
)

// ---- encoding ----

func encodeSubaccountID(owner string, number uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, owner)
	if number != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(number))
	}
	return b
}

func encodeOrderID(owner string, subaccountNumber, clientID, orderFlags, clobPairID uint32) []byte {
	var b []byte
	sub := encodeSubaccountID(owner, subaccountNumber)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, sub)
	// client_id is fixed32 on the wire.
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, clientID)
	if orderFlags != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(orderFlags))
	}
	if clobPairID != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(clobPairID))
	}
	return b
}

func encodeOrder(owner string, subaccountNumber uint32, req OrderRequest, goodTilBlock uint32) []byte {
	var b []byte
	oid := encodeOrderID(owner, subaccountNumber, req.ClientID, 0, req.ClobPairID)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, oid)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Side))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, req.Quantums)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, req.Subticks)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(goodTilBlock))
	if req.TimeInForce != TimeInForceUnspecified {
		b = protowire.AppendTag(b, 7, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(req.TimeInForce))
	}
	if req.ReduceOnly {
		b = protowire.AppendTag(b, 8, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b
}

func encodeMsgPlaceOrder(order []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, order)
	return b
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, typeURL)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, value)
	return b
}

func encodeTxBody(msgs ...[]byte) []byte {
	var b []byte
	for _, m := range msgs {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func encodeAuthInfo(pubKey []byte, sequence uint64) []byte {
	// SignerInfo{public_key, mode_info{single{mode: DIRECT}}, sequence}
	var mode []byte
	mode = protowire.AppendTag(mode, 1, protowire.VarintType)
	mode = protowire.AppendVarint(mode, signModeDirect)

	var single []byte
	single = protowire.AppendTag(single, 1, protowire.BytesType)
	single = protowire.AppendBytes(single, mode)

	var pkMsg []byte
	pkMsg = protowire.AppendTag(pkMsg, 1, protowire.BytesType)
	pkMsg = protowire.AppendBytes(pkMsg, pubKey)

	var signer []byte
	signer = protowire.AppendTag(signer, 1, protowire.BytesType)
	signer = protowire.AppendBytes(signer, encodeAny(secp256k1PubKeyURL, pkMsg))
	signer = protowire.AppendTag(signer, 2, protowire.BytesType)
	signer = protowire.AppendBytes(signer, single)
	if sequence != 0 {
		signer = protowire.AppendTag(signer, 3, protowire.VarintType)
		signer = protowire.AppendVarint(signer, sequence)
	}

	// Short-term clob messages are fee-free; Fee{gas_limit: 0} encodes empty.
	var fee []byte

	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, signer)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, fee)
	return b
}

func encodeSignDoc(bodyBytes, authInfoBytes []byte, chainID string, accountNumber uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, bodyBytes)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, authInfoBytes)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, chainID)
	if accountNumber != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, accountNumber)
	}
	return b
}

func encodeTxRaw(bodyBytes, authInfoBytes, signature []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, bodyBytes)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, authInfoBytes)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, signature)
	return b
}

// BuildOrderTx assembles a signed tx carrying a single MsgPlaceOrder.
func BuildOrderTx(w *Wallet, subaccountNumber uint32, req OrderRequest, goodTilBlock uint32, chainID string, accountNumber, sequence uint64) []byte {
	order := encodeOrder(w.Address(), subaccountNumber, req, goodTilBlock)
	msg := encodeAny(msgPlaceOrderTypeURL, encodeMsgPlaceOrder(order))
	body := encodeTxBody(msg)
	authInfo := encodeAuthInfo(w.PubKey(), sequence)
	signDoc := encodeSignDoc(body, authInfo, chainID, accountNumber)
	sig := w.Sign(signDoc)
	return encodeTxRaw(body, authInfo, sig)
}

// ---- decoding ----

// DecodeTxOrders extracts every PlaceOrder message from a raw block tx. A tx
// that is not a valid TxRaw, or that carries no order messages, yields an
// empty slice. Individual malformed messages are skipped; the rest of the tx
// is still processed.
func DecodeTxOrders(raw []byte) ([]PlaceOrder, error) {
	bodyBytes, err := firstField(raw, 1)
	if err != nil {
		return nil, fmt.Errorf("decode tx envelope: %w", err)
	}

	var orders []PlaceOrder
	err = eachField(bodyBytes, 1, func(anyBytes []byte) {
		typeURL, value, err := decodeAny(anyBytes)
		if err != nil || typeURL != msgPlaceOrderTypeURL {
			return
		}
		orderBytes, err := firstField(value, 1)
		if err != nil {
			return
		}
		po, err := decodeOrderMsg(orderBytes)
		if err != nil {
			return
		}
		orders = append(orders, po)
	})
	if err != nil {
		return nil, fmt.Errorf("decode tx body: %w", err)
	}
	return orders, nil
}

func decodeAny(b []byte) (string, []byte, error) {
	var typeURL string
	var value []byte
	if err := walkFields(b, func(num protowire.Number, typ protowire.Type, payload []byte) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			typeURL = string(payload)
		case num == 2 && typ == protowire.BytesType:
			value = payload
		}
	}); err != nil {
		return "", nil, err
	}
	return typeURL, value, nil
}

func decodeOrderMsg(b []byte) (PlaceOrder, error) {
	var po PlaceOrder
	err := walkFieldsFull(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) {
		switch num {
		case 1:
			if typ == protowire.BytesType {
				decodeOrderID(payload, &po)
			}
		case 2:
			po.Side = int32(v)
		case 3:
			po.Quantums = v
		case 4:
			po.Subticks = v
		case 5:
			po.GoodTilBlock = uint32(v)
		case 7:
			po.TimeInForce = int32(v)
		case 8:
			po.ReduceOnly = v == 1
		}
	})
	if err != nil {
		return PlaceOrder{}, err
	}
	return po, nil
}

func decodeOrderID(b []byte, po *PlaceOrder) {
	_ = walkFieldsFull(b, func(num protowire.Number, typ protowire.Type, payload []byte, v uint64) {
		switch num {
		case 1:
			if typ == protowire.BytesType {
				_ = walkFieldsFull(payload, func(n protowire.Number, t protowire.Type, p []byte, sv uint64) {
					switch n {
					case 1:
						if t == protowire.BytesType {
							po.Owner = string(p)
						}
					case 2:
						po.SubaccountNumber = uint32(sv)
					}
				})
			}
		case 2:
			po.ClientID = uint32(v)
		case 3:
			po.OrderFlags = uint32(v)
		case 4:
			po.ClobPairID = uint32(v)
		}
	})
}

// walkFields iterates bytes-typed fields only; numeric fields are ignored.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte)) error {
	return walkFieldsFull(b, func(num protowire.Number, typ protowire.Type, payload []byte, _ uint64) {
		fn(num, typ, payload)
	})
}

// walkFieldsFull iterates every field, handing bytes payloads and numeric
// values (varint or fixed32) to the callback.
func walkFieldsFull(b []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte, v uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, nil, v)
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, nil, uint64(v))
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, nil, v)
			b = b[n:]
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, typ, payload, 0)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func firstField(b []byte, want protowire.Number) ([]byte, error) {
	var out []byte
	found := false
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, payload []byte) {
		if !found && num == want && typ == protowire.BytesType {
			out = payload
			found = true
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("field %d not present", want)
	}
	return out, nil
}

func eachField(b []byte, want protowire.Number, fn func(payload []byte)) error {
	return walkFields(b, func(num protowire.Number, typ protowire.Type, payload []byte) {
		if num == want && typ == protowire.BytesType {
			fn(payload)
		}
	})
}
