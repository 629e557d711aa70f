package sqlinline

// generationColumns is the column list scanned by repo.scanJob.
const generationColumns = `id::text, user_id::text, prompt, thumbnail_url, model_name, options, status,
    coalesce(task_id, ''), coalesce(api_key_used, ''), credits_used, source,
    coalesce(chat_id, 0), coalesce(message_id, 0), coalesce(error, ''),
    coalesce(video_url, ''), coalesce(r2_url, ''), created_at, started_at, updated_at`

const QInsertGeneration = `--sql 06553e16-30f7-4a95-92d7-c93b6fcd85f8
insert into generations (id, user_id, prompt, thumbnail_url, model_name, options, status, source, chat_id, message_id, credits_used, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, coalesce($6::jsonb, '{}'::jsonb), 'pending', $7::text, nullif($8::bigint, 0), nullif($9::int, 0), 0, now(), now())
returning id::text;
`

const QNotifyGeneration = `--sql 6b0c5ea3-e39c-43bd-8dc0-ee551e7c2d64
select pg_notify($1::text, $2::text);
`

const QSelectGenerationByID = `--sql 67140124-37ff-4caa-b573-9d3e79ec29b7
select ` + generationColumns + `
from generations
where id = $1::uuid;
`

const QSelectOldestPending = `--sql abcfebcf-ce9d-4693-b533-c4ea478a4ccd
select ` + generationColumns + `
from generations
where status = 'pending'
  and source = $1::text
order by created_at asc, id asc
limit $2::int;
`

const QClaimGeneration = `--sql 9e809854-8377-48a7-9401-a1c355951685
update generations
set status = 'processing',
    started_at = $2::timestamptz,
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QMarkGenerationSubmitted = `--sql ae271f5e-95a5-447f-8e82-5613ab84d742
update generations
set task_id = $2::text,
    api_key_used = $3::text,
    credits_used = $4::int,
    message_id = coalesce(nullif($5::int, 0), message_id),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCompleteGeneration = `--sql e721dd09-d1c5-474f-9b0b-48208c7f674a
update generations
set status = 'completed',
    video_url = $2::text,
    r2_url = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QFailGeneration = `--sql fe9d91d9-2662-49dd-876a-4eb1bb95a5c4
update generations
set status = 'failed',
    error = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QReapStaleGenerations = `--sql 5ebc635b-be74-433f-9af3-b794bc8022f0
update generations
set status = 'failed',
    error = $3::text,
    updated_at = now()
where user_id = $1::uuid
  and status = 'processing'
  and created_at < $2::timestamptz;
`

const QCountProcessingSince = `--sql 46b13107-d641-41c1-a705-8d406795ed8e
select count(*)
from generations
where status = 'processing'
  and created_at >= $1::timestamptz;
`

const QCountUserProcessing = `--sql 0cebee4e-a942-4874-bf4f-66830664ecbd
select count(*)
from generations
where user_id = $1::uuid
  and status = 'processing';
`

const QSelectInFlightGenerations = `--sql 6f56b1a2-8adc-4653-b7e8-de78f799c779
select ` + generationColumns + `
from generations
where status = 'processing'
  and task_id is not null
  and task_id <> ''
order by started_at asc nulls first;
`

const QCountPending = `--sql af0833f5-9b66-4cbd-82a5-cde8f3529e87
select count(*)
from generations
where status = 'pending'
  and source = $1::text;
`
