package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceLevel is a FIFO queue at a single price.
type PriceLevel struct {
	Price decimal.Decimal

	head *Order
	tail *Order

	TotalQty   decimal.Decimal
	OrderCount int
}

// insert places o by acceptance sequence; in steady state this is an append.
func (p *PriceLevel) insert(o *Order) {
	o.level = p
	p.TotalQty = p.TotalQty.Add(o.Remaining)
	p.OrderCount++

	at := p.tail
	for at != nil && at.Seq > o.Seq {
		at = at.prev
	}

	if at == nil {
		o.prev = nil
		o.next = p.head
		if p.head != nil {
			p.head.prev = o
		}
		p.head = o
		if p.tail == nil {
			p.tail = o
		}
		return
	}

	o.prev = at
	o.next = at.next
	if at.next != nil {
		at.next.prev = o
	} else {
		p.tail = o
	}
	at.next = o
}

func (p *PriceLevel) remove(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}

	p.TotalQty = p.TotalQty.Sub(o.Remaining)
	p.OrderCount--
	o.next, o.prev, o.level = nil, nil, nil
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head is the oldest order at this price.
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) String() string {
	return fmt.Sprintf("Level{price=%s qty=%s orders=%d}", p.Price, p.TotalQty, p.OrderCount)
}
