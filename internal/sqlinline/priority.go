package sqlinline

const QPriorityActiveBid = `--sql aed50a57-87b1-4e3e-8d13-d0fbcdeb9d74
select tier, expires_at
from auction_bids
where requester_id = $1
  and slot_key = $2
  and status = 'won'
  and expires_at > $3
order by expires_at desc
limit 1;
`

const QPriorityThrottled = `--sql 0de5761f-7f52-4614-aff3-41700b96dee4
select exists(
    select 1
    from requester_flags
    where requester_id = $1
      and flag = 'throttled'
      and (expires_at is null or expires_at > now())
);
`
